package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/internal/models"
	"github.com/digkill/ProduktStudio/internal/service"
)

type promptFlags struct {
	aspect   string
	style    string
	lighting string
	camera   string
}

func (f *promptFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.aspect, "aspect", service.DefaultAspectRatio, "Aspect ratio, e.g. 1:1, 16:9, 3:4")
	cmd.Flags().StringVar(&f.style, "style", "", "Photography style (studio, lifestyle, minimal, luxury, ...)")
	cmd.Flags().StringVar(&f.lighting, "lighting", "", "Lighting (natural, soft, dramatic, ...)")
	cmd.Flags().StringVar(&f.camera, "camera", "", "Camera angle (front, top-down, close-up, ...)")
}

func (f *promptFlags) options() service.PromptOptions {
	return service.PromptOptions{Style: f.style, Lighting: f.lighting, Camera: f.camera}
}

func newGenerateCmd(rt *runtime) *cobra.Command {
	var (
		flags     promptFlags
		negative  string
		reference string
	)
	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Generate a product image on the backend",
		Long: `Generate submits a text-to-image job and waits for it to complete.

With --reference and no prompt, the prompt is derived from the reference image.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.backendApp(cmd)
			if err != nil {
				return err
			}
			req := service.GenerationRequest{
				NegativePrompt: negative,
				AspectRatio:    flags.aspect,
				Options:        flags.options(),
			}
			if len(args) == 1 {
				req.Prompt = args[0]
			}
			if reference != "" {
				img, err := readImage(reference)
				if err != nil {
					return err
				}
				req.Reference = &img
			}
			result, err := app.Generation.Generate(cmd.Context(), req)
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), result)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&negative, "negative", "", "Negative prompt")
	cmd.Flags().StringVar(&reference, "reference", "", "Reference image file")
	return cmd
}

func newCombineCmd(rt *runtime) *cobra.Command {
	var prompt string
	cmd := &cobra.Command{
		Use:   "combine <image>...",
		Short: "Combine up to five images into one scene",
		Args:  cobra.RangeArgs(1, service.MaxReferenceImages),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.backendApp(cmd)
			if err != nil {
				return err
			}
			images, err := readImages(args)
			if err != nil {
				return err
			}
			result, err := app.Generation.Combine(cmd.Context(), images, prompt)
			if err != nil {
				return err
			}
			printJob(cmd.OutOrStdout(), result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "How the images should be combined")
	return cmd
}

func newAnalyzeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <image>",
		Short: "Suggest a generation prompt for an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := readImage(args[0])
			if err != nil {
				return err
			}
			var prompt string
			if rt.app.Config.Mode == config.ModeDirect {
				prompt, err = rt.app.Studio.Analyze(cmd.Context(), img)
			} else {
				app, rerr := rt.backendApp(cmd)
				if rerr != nil {
					return rerr
				}
				prompt, err = app.Generation.Analyze(cmd.Context(), img)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prompt)
			return nil
		},
	}
}

func newGalleryCmd(rt *runtime) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "List your completed generations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := rt.backendApp(cmd)
			if err != nil {
				return err
			}
			jobs, err := app.Generation.Gallery(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if done, err := writeStructured(out, format, jobs); done {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(out, labelStyle.Render("No images yet."))
				return nil
			}
			tw := newTable(out)
			fmt.Fprintln(tw, "ID\tSIZE\tCREATED\tPROMPT\tURL")
			for _, job := range jobs {
				created := "-"
				if job.CreatedAt != nil {
					created = job.CreatedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%dx%d\t%s\t%s\t%s\n",
					job.ID, job.Width, job.Height, created, truncate(job.Prompt, 48), jobURL(job))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, yaml or json")
	return cmd
}

func printJob(w io.Writer, result *service.GenerationResult) {
	if result == nil || result.Job == nil {
		return
	}
	fmt.Fprintln(w, headerStyle.Render("Job "+result.JobID))
	printField(w, "Prompt", result.Prompt)
	printField(w, "Status", string(result.Job.Status))
	if result.Job.Width > 0 {
		printField(w, "Size", fmt.Sprintf("%dx%d", result.Job.Width, result.Job.Height))
	}
	for i, u := range jobURLs(*result.Job) {
		printField(w, fmt.Sprintf("Image %d", i+1), u)
	}
}

func jobURLs(job models.GenerationJob) []string {
	if len(job.Images) > 0 {
		urls := make([]string, 0, len(job.Images))
		for _, img := range job.Images {
			urls = append(urls, img.URL)
		}
		return urls
	}
	if job.ImageURL != "" {
		return []string{job.ImageURL}
	}
	return nil
}

func jobURL(job models.GenerationJob) string {
	urls := jobURLs(job)
	if len(urls) == 0 {
		return "-"
	}
	return urls[0]
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
