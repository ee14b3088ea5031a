package main

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/couchgo/internal/couch"
	"github.com/mattjoyce/couchgo/internal/doctor"
	"github.com/mattjoyce/couchgo/pkg/abi"
)

func newFetchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <uri>",
		Short: "GET a CouchDB path and print the decoded response",
		Example: `  couchgo fetch /_all_dbs
  couchgo fetch /mydb/_design/app`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fetch(cmd.Context(), args[0])
		},
	}
}

func (a *app) fetch(ctx context.Context, uri string) error {
	cfg, err := a.load()
	if err != nil {
		return err
	}
	resp, err := couch.New(cfg.Port, cfg.Couch.Retries).Request(ctx, uri, nil, nil)
	if err != nil {
		return err
	}

	headers := make(map[string]string, len(resp.Headers))
	for name := range resp.Headers {
		headers[name] = resp.Headers.Get(name)
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"status":  resp.Status,
		"message": resp.Message,
		"headers": headers,
		"body":    resp.Body,
	})
}

func newDoctorCommand(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the toolchain, cache directory and catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			r := doctor.New(cfg).Validate(cmd.Context())
			if jsonOut {
				out, err := doctor.FormatJSON(r)
				if err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, out)
			} else {
				fmt.Fprint(a.stdout, doctor.FormatHuman(r))
			}
			if !r.Valid {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

type versionInfo struct {
	Version          string `json:"version"`
	Commit           string `json:"commit"`
	BuildTime        string `json:"build_time"`
	InterfaceVersion string `json:"interface_version"`
	GoVersion        string `json:"go_version"`
}

func newVersionCommand(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			info := versionInfo{
				Version:          version,
				Commit:           gitCommit,
				BuildTime:        buildDate,
				InterfaceVersion: abi.InterfaceVersion,
				GoVersion:        runtime.Version(),
			}
			if jsonOut {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(a.stdout, "couchgo %s (commit %s, built %s)\n", info.Version, info.Commit, info.BuildTime)
			fmt.Fprintf(a.stdout, "interface %s, %s\n", info.InterfaceVersion, info.GoVersion)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output version metadata as JSON")
	return cmd
}
