// Package scaffold creates the files a new sweep project starts from.
package scaffold

import (
	"embed"
	"fmt"
	"os"

	"github.com/tunelab/sweep/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize creates the sweep project files in the current directory.
// If force is true, it removes an existing sweep.yml first.
func Initialize(force bool) error {
	if force {
		if err := handleForce(); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	if err := writeFiles(files); err != nil {
		return err
	}

	return validateCreatedFiles()
}

// handleForce removes existing files if --force was specified
func handleForce() error {
	for _, path := range []string{"sweep.yml", "trial.sh"} {
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("⚠ Removing existing %s...\n", path)
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", path, err)
			}
		}
	}
	return nil
}

// getTemplateFiles reads and processes all template files
func getTemplateFiles() ([]FileInfo, error) {
	files := []FileInfo{}

	sweepYml, err := templatesFS.ReadFile("templates/sweep.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read sweep.yml template: %w", err)
	}
	files = append(files, FileInfo{
		Path:        "sweep.yml",
		Content:     sweepYml,
		Permissions: 0644,
	})

	trialSh, err := templatesFS.ReadFile("templates/trial.sh.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read trial.sh template: %w", err)
	}
	files = append(files, FileInfo{
		Path:        "trial.sh",
		Content:     trialSh,
		Permissions: 0755, // Executable
	})

	return files, nil
}

// writeFiles writes all template files to disk
func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles loads the generated sweep.yml through the real config
// parser so a broken template fails init rather than the first run.
func validateCreatedFiles() error {
	if _, err := config.Load("sweep.yml"); err != nil {
		return fmt.Errorf("created sweep.yml is not valid: %w", err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	fmt.Println("\n✅ Initialized sweep project!")
	fmt.Println("\nCreated:")
	fmt.Println("  ✓ sweep.yml")
	fmt.Println("  ✓ trial.sh")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit sweep.yml: name your experiment and declare its search space")
	fmt.Println("  2. Replace trial.sh with your real trial command")
	fmt.Println("  3. Run 'sweep run' to execute trials, or 'sweep enqueue' + 'sweep work' to distribute them")
}
