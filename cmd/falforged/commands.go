package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"falforge/internal/app"
	"falforge/internal/buildinfo"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var prime bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP gateway over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			return opts.newApp().Serve(ctx, app.ServeConfig{
				ConfigPath: opts.configPath,
				Prime:      prime,
			})
		},
	}
	cmd.Flags().BoolVar(&prime, "prime", false, "load the full catalog once at startup")

	return cmd
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without starting the gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.newApp().ValidateConfig(cmd.Context(), app.ValidateConfig{
				ConfigPath: opts.configPath,
			})
		},
	}
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		hasImage   bool
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Rank catalog models for a task description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			ranked, err := opts.newApp().Search(ctx, app.SearchConfig{
				ConfigPath: opts.configPath,
				Query:      args[0],
				HasImage:   hasImage,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(ranked)
			}
			if len(ranked) == 0 {
				fmt.Println("no models matched")
				return nil
			}
			for _, m := range ranked {
				fmt.Printf("%-44s score=%-7.1f quality=%-4d %s\n", m.ID, m.Score, m.QualityScore, m.Category)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&hasImage, "has-image", false, "task supplies an input image")
	cmd.Flags().IntVar(&limit, "limit", 0, "max results (0 uses the configured limit)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	return cmd
}

func newSynthCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "synth <endpoint-id>",
		Short: "Synthesize the tool for one endpoint and print its surface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			report, err := opts.newApp().Synthesize(ctx, app.SynthConfig{
				ConfigPath: opts.configPath,
				EndpointID: args[0],
			})
			if err != nil {
				return err
			}
			return writeJSON(report)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("falforged %s (commit %s, built %s)\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
		},
	}
}

func writeJSON(value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
