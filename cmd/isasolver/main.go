package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gpuisa/solver/pkg/config"
	"github.com/gpuisa/solver/pkg/isaspec"
	"github.com/gpuisa/solver/pkg/liverange"
	"github.com/gpuisa/solver/pkg/oracle"
	"github.com/gpuisa/solver/pkg/pipeline"
	"github.com/gpuisa/solver/pkg/report"
	"github.com/gpuisa/solver/pkg/word"
)

func main() {
	var cfgPath string
	var arch string
	var archCode int
	var cacheFile string
	var disassemblerBin string
	var numParallel int
	var filter string

	rootCmd := &cobra.Command{
		Use:   "isasolver",
		Short: "Reverse-engineer a GPU instruction set encoding from a disassembler oracle",
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&arch, "arch", "", "Target architecture name (overrides config)")
	rootCmd.PersistentFlags().IntVar(&archCode, "arch-code", 0, "Target architecture code (overrides config)")
	rootCmd.PersistentFlags().StringVar(&cacheFile, "cache-file", "", "Disassembler response cache path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&disassemblerBin, "disassembler", "", "Disassembler binary path (overrides config)")
	rootCmd.PersistentFlags().String("nvdisasm", "", "Deprecated alias for --disassembler")
	rootCmd.PersistentFlags().MarkHidden("nvdisasm")
	rootCmd.PersistentFlags().MarkDeprecated("nvdisasm", "use --disassembler instead")
	rootCmd.PersistentFlags().IntVar(&numParallel, "num-parallel", 0, "Number of concurrent workers (overrides config)")
	rootCmd.PersistentFlags().StringVar(&filter, "filter", "", "Only analyze seeds whose disassembly contains this substring")

	loadConfig := func(cmd *cobra.Command) (*config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return nil, err
		}
		if arch != "" {
			cfg.Oracle.Arch = arch
		}
		if archCode != 0 {
			cfg.Oracle.ArchCode = archCode
		}
		if cacheFile != "" {
			cfg.Oracle.CacheFile = cacheFile
		}
		if disassemblerBin != "" {
			cfg.Oracle.DisassemblerBin = disassemblerBin
		} else if legacy, _ := cmd.Flags().GetString("nvdisasm"); legacy != "" {
			cfg.Oracle.DisassemblerBin = legacy
		}
		if numParallel != 0 {
			cfg.Pipeline.NumParallel = numParallel
		}
		if filter != "" {
			cfg.Pipeline.Filter = filter
		}
		return cfg, nil
	}

	var seedFile string
	var findNew bool
	var liveRangeBin string
	var outJSON string

	solveCmd := &cobra.Command{
		Use:   "solve [seed-hex...]",
		Short: "Analyze seed words and emit an ISA JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			disasm, err := oracle.NewProcessDisassembler(cfg.Oracle.DisassemblerBin, nil, cfg.Oracle.CacheFile)
			if err != nil {
				return fmt.Errorf("isasolver: opening disassembler: %w", err)
			}
			defer disasm.Flush()

			engine := &pipeline.Engine{Disassembler: disasm, ArchCode: cfg.Oracle.ArchCode}
			if liveRangeBin != "" {
				lr, err := liverange.NewProcessOracle(liveRangeBin, cfg.Oracle.ArchCode)
				if err != nil {
					return fmt.Errorf("isasolver: opening live-range oracle: %w", err)
				}
				defer lr.Close()
				engine.LiveRange = lr
			}

			seeds, err := collectSeeds(args, seedFile)
			if err != nil {
				return err
			}

			var isa *isaspec.ISASpec
			var failures []pipeline.SeedResult

			if findNew {
				isa, failures, err = engine.AnalyzeNewSeeds(context.Background(), disasm, cfg.Pipeline.NumParallel, nil)
				if err != nil {
					return fmt.Errorf("isasolver: analyzing new seeds: %w", err)
				}
			} else {
				if len(seeds) == 0 {
					return fmt.Errorf("isasolver: solve requires seed words or --seed-file")
				}
				results := engine.AnalyzeAll(context.Background(), seeds, cfg.Pipeline.NumParallel, nil)
				isa = pipeline.Successful(results)
				failures = pipeline.Failures(results)
			}

			if cfg.Pipeline.Filter != "" {
				filterISA(isa, cfg.Pipeline.Filter)
			}

			fmt.Printf("Analyzed %d instructions (%d failures)\n", len(isa.Instructions), len(failures))
			for _, f := range failures {
				fmt.Printf("  FAIL %s: %v\n", f.Seed.Hex(), f.Err)
			}

			data, err := isa.ToJSON()
			if err != nil {
				return fmt.Errorf("isasolver: encoding isa.json: %w", err)
			}
			out := outJSON
			if out == "" {
				out = cfg.Report.ISAFile
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("isasolver: writing %s: %w", out, err)
			}
			fmt.Printf("Written to %s\n", out)
			return nil
		},
	}
	solveCmd.Flags().StringVar(&seedFile, "seed-file", "", "File of newline-separated hex seed words")
	solveCmd.Flags().BoolVar(&findNew, "find-new", false, "Iteratively discover and analyze every unique opcode in the disassembler's cache")
	solveCmd.Flags().StringVar(&liveRangeBin, "live-range-bin", "", "Live-range oracle binary path (enables operand-interaction analysis)")
	solveCmd.Flags().StringVar(&outJSON, "output", "", "Output ISA JSON path (defaults to config report.isa_file)")

	verifyCmd := &cobra.Command{
		Use:   "verify [isa.json]",
		Short: "Re-encode every persisted instruction with its minimal modifiers and check the disassembler accepts the word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			isa, err := isaspec.ISASpecFromJSON(data)
			if err != nil {
				return fmt.Errorf("isasolver: parsing %s: %w", args[0], err)
			}

			disasm, err := oracle.NewProcessDisassembler(cfg.Oracle.DisassemblerBin, nil, cfg.Oracle.CacheFile)
			if err != nil {
				return fmt.Errorf("isasolver: opening disassembler: %w", err)
			}
			defer disasm.Flush()

			total, passed := 0, 0
			for key, spec := range isa.Instructions {
				total++
				_, encoded, ok := spec.EncodeForLiveRange(spec.GetMinimalModifiers())
				if !ok {
					fmt.Printf("  [SKIP] %s: could not re-encode minimal modifiers\n", key)
					continue
				}
				text, err := disasm.Disassemble(encoded)
				if err != nil {
					fmt.Printf("  [FAIL] %s: %v\n", key, err)
					continue
				}
				if text == "" {
					fmt.Printf("  [FAIL] %s: disassembler refused re-encoded word %s\n", key, encoded.Hex())
					continue
				}
				fmt.Printf("  [ OK ] %s -> %s\n", key, text)
				passed++
			}
			fmt.Printf("\n%d/%d instructions re-disassembled successfully\n", passed, total)
			if passed != total {
				return fmt.Errorf("%d instructions failed verification", total-passed)
			}
			return nil
		},
	}

	enumCmd := &cobra.Command{
		Use:   "enumerate-modifiers <seed-hex>",
		Short: "Print the minimal and full modifier tokens for one seed word",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			seed, err := word.FromHex(args[0])
			if err != nil {
				return fmt.Errorf("isasolver: parsing seed %q: %w", args[0], err)
			}

			disasm, err := oracle.NewProcessDisassembler(cfg.Oracle.DisassemblerBin, nil, cfg.Oracle.CacheFile)
			if err != nil {
				return fmt.Errorf("isasolver: opening disassembler: %w", err)
			}
			defer disasm.Flush()

			engine := &pipeline.Engine{Disassembler: disasm, ArchCode: cfg.Oracle.ArchCode}
			spec, err := engine.AnalyzeSeed(seed)
			if err != nil {
				return fmt.Errorf("isasolver: analyzing %s: %w", args[0], err)
			}

			fmt.Printf("%s\n", spec.CanonicalName)
			fmt.Printf("opcode modifiers: %s\n", strings.Join(spec.OpcodeModis, ", "))
			fmt.Printf("minimal modifiers: %s\n", strings.Join(spec.GetMinimalModifiers(), ", "))
			for i, field := range spec.Modifiers {
				var names []string
				for _, v := range field {
					if v.Name != "" {
						names = append(names, v.Name)
					}
				}
				fmt.Printf("  field %d: %s\n", i, strings.Join(names, ", "))
			}
			return nil
		},
	}

	reportCmd := &cobra.Command{
		Use:   "report [isa.json]",
		Short: "Render the HTML instruction-set report from a persisted ISA JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			isa, err := isaspec.ISASpecFromJSON(data)
			if err != nil {
				return fmt.Errorf("isasolver: parsing %s: %w", args[0], err)
			}

			byBase := map[string][]*isaspec.InstructionSpec{}
			for _, spec := range isa.Instructions {
				byBase[spec.Parsed.BaseName] = append(byBase[spec.Parsed.BaseName], spec)
			}

			if err := os.MkdirAll(cfg.Report.OutputDir, 0o750); err != nil {
				return fmt.Errorf("isasolver: creating %s: %w", cfg.Report.OutputDir, err)
			}

			var baseNames []string
			for base, specs := range byBase {
				sort.Slice(specs, func(i, j int) bool { return specs[i].CanonicalName < specs[j].CanonicalName })
				path := filepath.Join(cfg.Report.OutputDir, base+".html")
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("isasolver: creating %s: %w", path, err)
				}
				err = report.WriteMnemonicPage(f, specs)
				f.Close()
				if err != nil {
					return fmt.Errorf("isasolver: rendering %s: %w", path, err)
				}
				baseNames = append(baseNames, base)
			}

			indexPath := filepath.Join(cfg.Report.OutputDir, "index.html")
			f, err := os.Create(indexPath)
			if err != nil {
				return fmt.Errorf("isasolver: creating %s: %w", indexPath, err)
			}
			err = report.WriteIndex(f, cfg.Oracle.Arch, baseNames)
			f.Close()
			if err != nil {
				return fmt.Errorf("isasolver: rendering %s: %w", indexPath, err)
			}

			fmt.Printf("Wrote %d mnemonic pages to %s\n", len(baseNames), cfg.Report.OutputDir)
			return nil
		},
	}

	rootCmd.AddCommand(solveCmd, verifyCmd, enumCmd, reportCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// collectSeeds merges positional hex arguments with a newline-separated
// seed file, in that order.
func collectSeeds(args []string, seedFile string) ([]word.Word, error) {
	var seeds []word.Word
	for _, a := range args {
		w, err := word.FromHex(a)
		if err != nil {
			return nil, fmt.Errorf("isasolver: parsing seed %q: %w", a, err)
		}
		seeds = append(seeds, w)
	}
	if seedFile == "" {
		return seeds, nil
	}
	f, err := os.Open(seedFile)
	if err != nil {
		return nil, fmt.Errorf("isasolver: opening %s: %w", seedFile, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		w, err := word.FromHex(line)
		if err != nil {
			return nil, fmt.Errorf("isasolver: parsing seed %q in %s: %w", line, seedFile, err)
		}
		seeds = append(seeds, w)
	}
	return seeds, sc.Err()
}

// filterISA drops every instruction whose disassembly doesn't contain
// substr, matching the Python driver's --filter flag.
func filterISA(isa *isaspec.ISASpec, substr string) {
	for key, spec := range isa.Instructions {
		if !strings.Contains(spec.Disasm, substr) {
			delete(isa.Instructions, key)
		}
	}
}
