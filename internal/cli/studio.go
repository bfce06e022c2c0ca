package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digkill/ProduktStudio/internal/service"
)

func newStudioCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "studio",
		Short: "Generate images with your own provider key and local credits",
	}
	cmd.AddCommand(newStudioGenerateCmd(rt), newStudioAnalyzeCmd(rt), newStudioKeyCmd(rt))
	return cmd
}

func newStudioGenerateCmd(rt *runtime) *cobra.Command {
	var (
		flags promptFlags
		refs  []string
		out   string
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate images directly with the provider",
		Long: `Generate calls the image model with the stored API key. One local credit
is charged per returned image; failed calls are free.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := service.StudioRequest{AspectRatio: flags.aspect, Options: flags.options()}
			if len(args) == 1 {
				req.Prompt = args[0]
			}
			images, err := readImages(refs)
			if err != nil {
				return err
			}
			req.References = images

			result, err := rt.app.Studio.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printField(w, "Prompt", result.Prompt)
			if result.Text != "" {
				printField(w, "Model notes", result.Text)
			}
			for i, img := range result.Images {
				if img.URL != "" {
					printField(w, fmt.Sprintf("Image %d", i+1), img.URL)
				}
			}
			if out != "" {
				paths, err := saveImages(out, result.Images)
				if err != nil {
					return err
				}
				for _, p := range paths {
					printField(w, "Saved", p)
				}
			}
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-14s", "Credits:")), creditsBadge(result.CreditsLeft))
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringArrayVarP(&refs, "image", "i", nil, "Reference image file (repeatable, up to 5)")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "Directory to write generated images to (empty to skip)")
	return cmd
}

func newStudioAnalyzeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <image>",
		Short: "Describe an image as a generation prompt (free)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readImage(args[0])
			if err != nil {
				return err
			}
			prompt, err := rt.app.Studio.Analyze(cmd.Context(), img)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prompt)
			return nil
		},
	}
}

func newStudioKeyCmd(rt *runtime) *cobra.Command {
	var fromEnv bool
	cmd := &cobra.Command{
		Use:   "key [api-key]",
		Short: "Show or store the provider API key",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()
			var key string
			switch {
			case len(args) == 1:
				key = args[0]
			case fromEnv:
				key = os.Getenv("GEMINI_API_KEY")
			}
			if key != "" {
				if err := rt.app.Studio.SetAPIKey(ctx, key); err != nil {
					return err
				}
				printField(w, "API key", "stored")
				return nil
			}
			if fromEnv {
				return errors.New("GEMINI_API_KEY is not set")
			}

			current, err := rt.app.Studio.APIKey(ctx)
			if err != nil {
				return err
			}
			if current == "" {
				printField(w, "API key", "not configured")
				return nil
			}
			printField(w, "API key", maskKey(current))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromEnv, "from-env", false, "Store the key from GEMINI_API_KEY")
	return cmd
}

func newHistoryCmd(rt *runtime) *cobra.Command {
	var (
		limit  int
		format string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled direct-mode generations (sql stores only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := rt.app.Studio.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, records); done {
				return err
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "WHEN\tRATIO\tIMAGES\tCREDITS LEFT\tPROMPT")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04"), orDash(r.AspectRatio), r.Images, r.CreditsAfter, truncate(r.Prompt, 48))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, yaml or json")
	return cmd
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
