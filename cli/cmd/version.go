package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tranche/cli/render"
	"github.com/pithecene-io/tranche/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version         string `json:"version" yaml:"version"`
	ManifestVersion string `json:"manifest_version" yaml:"manifest_version"`
	Commit          string `json:"commit" yaml:"commit"`
}

// VersionCommand returns the version command.
// It must not contact the remote service.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		r, err := render.NewRenderer(c)
		if err != nil {
			return err
		}
		return r.Render(VersionResponse{
			Version:         types.Version,
			ManifestVersion: types.ManifestVersion,
			Commit:          commit,
		})
	}
}
