package cli

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/digkill/ProduktStudio/internal/models"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Bold(true)

	creditsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	lowCreditsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)
)

const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

// creditsBadge colors a balance the way the dashboard does: red when empty,
// orange when low.
func creditsBadge(n int) string {
	label := fmt.Sprintf("%d credits", n)
	switch {
	case n <= 0:
		return errorStyle.Render(label)
	case n <= 5:
		return lowCreditsStyle.Render(label)
	default:
		return creditsStyle.Render(label)
	}
}

func printField(w io.Writer, label, value string) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-14s", label+":")), valueStyle.Render(value))
}

// writeStructured renders v as YAML or JSON. It reports false for the
// table format so the caller can print its own table.
func writeStructured(w io.Writer, format string, v any) (bool, error) {
	switch strings.ToLower(format) {
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, fmt.Errorf("encode yaml: %w", err)
		}
		return true, enc.Close()
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatTable, "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown format %q (want table, yaml or json)", format)
	}
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
}

// readImage loads a reference image from disk.
func readImage(path string) (models.ReferenceImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.ReferenceImage{}, fmt.Errorf("read image %s: %w", path, err)
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return models.ReferenceImage{}, fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return models.ReferenceImage{MimeType: mime, Base64: base64.StdEncoding.EncodeToString(data)}, nil
}

func readImages(paths []string) ([]models.ReferenceImage, error) {
	images := make([]models.ReferenceImage, 0, len(paths))
	for _, p := range paths {
		img, err := readImage(p)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// saveImages writes inline images into dir and returns the file paths.
func saveImages(dir string, images []models.GeneratedImage) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	paths := make([]string, 0, len(images))
	for i, img := range images {
		data, err := base64.StdEncoding.DecodeString(img.Base64)
		if err != nil {
			return nil, fmt.Errorf("decode image %d: %w", i+1, err)
		}
		name := filepath.Join(dir, fmt.Sprintf("image-%d%s", i+1, extensionFor(img.MimeType)))
		if err := os.WriteFile(name, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		paths = append(paths, name)
	}
	return paths, nil
}

func extensionFor(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
