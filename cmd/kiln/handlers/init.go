package handlers

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudkiln/kiln/internal/config"
)

// Factory function variables for init - replaced in tests.
var (
	fileExists = func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}

	runWizard     = config.RunWizard
	writeDocument = config.WriteDocumentYAML
)

// Init runs the interactive wizard and writes the resulting document.
func Init(ctx context.Context, outputPath string) error {
	if outputPath == "" {
		outputPath = DefaultDocumentPath
	}
	if fileExists(outputPath) {
		fmt.Fprintf(stdout, "Warning: %s already exists and will be overwritten.\n\n", outputPath)
	}

	fmt.Fprintln(stdout, "kiln - declarative cloud environments")
	fmt.Fprintln(stdout)

	result, err := runWizard(ctx)
	if err != nil {
		return err
	}

	doc := result.ToDocument()
	if err := writeDocument(doc, outputPath); err != nil {
		return err
	}

	printInitSuccess(outputPath, result)
	return nil
}

func printInitSuccess(outputPath string, r *config.WizardResult) {
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Document saved!")
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  File: %s\n", outputPath)
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "  Name:     %s\n", r.Name)
	fmt.Fprintf(stdout, "  Zone:     %s\n", r.Zone)
	fmt.Fprintf(stdout, "  Location: %s\n", r.Location)
	fmt.Fprintf(stdout, "  Workers:  %d x %s\n", r.WorkerCount, r.WorkerSize)
	if r.Image != "" {
		fmt.Fprintf(stdout, "  Image:    %s\n", r.Image)
	}
	fmt.Fprintf(stdout, "  Monitoring: %t\n", r.Monitoring)
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Next steps:")
	fmt.Fprintln(stdout, "  1. export KILN_HCLOUD_TOKEN=<your-token>")
	fmt.Fprintf(stdout, "  2. Review %s if needed\n", outputPath)
	fmt.Fprintln(stdout, "  3. kiln plan && kiln apply")
}
