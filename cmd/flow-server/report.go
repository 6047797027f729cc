package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/optiflow/flow/internal/domain/patientflow"
	"github.com/optiflow/flow/internal/platform/auth"
	"github.com/optiflow/flow/internal/platform/reporting"
)

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write the flow report workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			out, _ := cmd.Flags().GetString("out")

			var patients []patientflow.Patient
			if from != "" {
				list, err := readSnapshotFile(from)
				if err != nil {
					return err
				}
				patients = list
			} else {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				a, err := newApp(cmd.Context(), cfg, newLogger(cfg))
				if err != nil {
					return err
				}
				defer a.Close()
				patients = a.svc.Export()
			}

			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create report: %w", err)
			}
			defer f.Close()

			ptrs := make([]*patientflow.Patient, len(patients))
			for i := range patients {
				ptrs[i] = &patients[i]
			}
			if err := reporting.WriteFlowReport(f, ptrs, patientflow.DefaultZoneDirectory(), time.Now().UTC()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d patient(s) to %s\n", len(patients), out)
			return nil
		},
	}
	cmd.Flags().String("from", "", "Snapshot file to report on instead of the configured store")
	cmd.Flags().String("out", "flow-report.xlsx", "Output workbook path")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Issue a signed staff token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			for _, r := range roles {
				if !knownRole(r) {
					return fmt.Errorf("unknown role %q", r)
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a := &app{cfg: cfg}
			tok, err := auth.IssueToken(a.jwtConfig(), args[0], roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringSlice("role", []string{auth.RoleStaff}, "Roles to grant ("+strings.Join(allRoles, ", ")+")")
	cmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

var allRoles = []string{auth.RoleManager, auth.RoleStaff, auth.RoleFloorLead, auth.RoleDoctor}

func knownRole(r string) bool {
	for _, k := range allRoles {
		if k == r {
			return true
		}
	}
	return false
}
