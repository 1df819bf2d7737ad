// Package cmd 提供 byedpi 命令行
package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"

	"byedpi-core/internal/config/loader"
	"byedpi-core/internal/config/schema"
	corelog "byedpi-core/internal/core/log"
	"byedpi-core/internal/version"
)

// globalOptions 全局标志
type globalOptions struct {
	configFile string
	logLevel   string
	logFile    string
	noColor    bool

	out io.Writer
}

// newLoader 按全局标志构造配置加载器，命令行覆盖优先级最高
func (g *globalOptions) newLoader(overrides ...func(cfg *schema.Root)) *loader.Loader {
	b := loader.NewLoaderBuilder().WithConfigFile(g.configFile)
	if g.logLevel != "" || g.logFile != "" {
		b = b.WithOverride(func(cfg *schema.Root) {
			if g.logLevel != "" {
				cfg.Log.Level = g.logLevel
			}
			if g.logFile != "" {
				cfg.Log.Output = corelog.OutputFile
				cfg.Log.File = g.logFile
			}
		})
	}
	for _, fn := range overrides {
		b = b.WithOverride(fn)
	}
	return b.Build()
}

func (g *globalOptions) output() *Output {
	return NewOutput(g.out, g.noColor)
}

// NewRootCommand 创建根命令
func NewRootCommand(out io.Writer) *cobra.Command {
	g := &globalOptions{out: out}

	root := &cobra.Command{
		Use:   "byedpi",
		Short: "ByeDPI - local DPI bypass proxy with device-wide tunnelling",
		Long: `ByeDPI runs a local SOCKS5 proxy that applies DPI circumvention and,
in vpn mode, redirects all device traffic into it through a TUN interface.

Quick Start:
  byedpi run                      Start in the foreground until interrupted
  byedpi run --mode proxy         Run the local proxy only
  byedpi status                   Query a running instance
  byedpi config show              Print the effective configuration`,
		Version:       version.GetVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	root.PersistentFlags().StringVarP(&g.configFile, "config", "c", "", "Config file path")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: debug/info/warn/error")
	root.PersistentFlags().StringVar(&g.logFile, "log", "", "Log file path")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newRunCmd(g))
	root.AddCommand(newStartCmd(g))
	root.AddCommand(newStopCmd(g))
	root.AddCommand(newStatusCmd(g))
	root.AddCommand(newConfigCmd(g))
	root.AddCommand(newVersionCmd(g))
	return root
}

// Execute 执行根命令
func Execute() {
	defer func() {
		if r := recover(); r != nil {
			corelog.Errorf("FATAL: main goroutine panic recovered: %v", r)
			fmt.Fprintf(os.Stderr, "\nPANIC: %v\n", r)
			fmt.Fprintf(os.Stderr, "Stack trace:\n%s\n", string(debug.Stack()))
			os.Exit(2)
		}
	}()

	if err := NewRootCommand(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// configureLogging 按配置初始化默认日志
func configureLogging(cfg schema.LogConfig) error {
	return corelog.Configure(corelog.Config{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
		File:   cfg.File,
	})
}
