// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/truthwindow/pkg/extensions"
	"github.com/AleutianAI/truthwindow/services/backup"
	"github.com/AleutianAI/truthwindow/services/orchestrator"
	"github.com/AleutianAI/truthwindow/services/orchestrator/storage"
	"github.com/AleutianAI/truthwindow/services/orchestrator/ttl"
	"github.com/AleutianAI/truthwindow/services/policy_engine"
)

// withStore opens the configured store for the duration of fn.
func withStore(cmd *cobra.Command, fn func(ctx context.Context, store storage.Store) error) error {
	store, err := orchestrator.OpenStore(cfg.Server, logger.Slog())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn("Failed to close session store", "error", cerr)
		}
	}()
	return fn(cmd.Context(), store)
}

func runAdminStats(cmd *cobra.Command, _ []string) error {
	return withStore(cmd, func(ctx context.Context, store storage.Store) error {
		stats, err := store.Stats(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Chats:\t%d\n", stats.ChatCount)
		fmt.Fprintf(w, "Owners:\t%d\n", stats.OwnerCount)
		fmt.Fprintf(w, "Messages:\t%d\n", stats.MessageCount)
		fmt.Fprintf(w, "  questions:\t%d\n", stats.UserMessages)
		fmt.Fprintf(w, "  answers:\t%d\n", stats.BotMessages)
		if stats.ChatCount > 0 {
			fmt.Fprintf(w, "Oldest update:\t%s\n", stats.OldestUpdatedAt.Format(time.RFC3339))
			fmt.Fprintf(w, "Newest update:\t%s\n", stats.NewestUpdatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	})
}

func runAdminSearch(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store storage.Store) error {
		hits, err := store.SearchMessages(ctx, args[0], searchLimit)
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No messages found.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "CHAT\tTITLE\t#\tFROM\tTEXT")
		for _, hit := range hits {
			from := "user"
			if hit.Message.IsBot {
				from = "bot"
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", hit.ChatID, truncate(hit.ChatTitle, 30),
				hit.Message.Ordinal, from, truncate(hit.Message.Content, 60))
		}
		return w.Flush()
	})
}

func runAdminExport(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(ctx context.Context, store storage.Store) error {
		var out io.Writer = cmd.OutOrStdout()
		target := "-"
		if len(args) == 1 && args[0] != "-" {
			target = args[0]
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			defer f.Close()
			out = f
		}
		n, err := backup.Export(ctx, store, out, time.Now())
		if err != nil {
			return err
		}
		logger.Info("Exported chats", "count", n, "target", target)
		return nil
	})
}

func runAdminImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	if importDryRun {
		archive, err := backup.ReadArchive(f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Archive from %s holds %d chats; nothing written.\n",
			archive.ExportedAt.Format(time.RFC3339), len(archive.Chats))
		return nil
	}

	return withStore(cmd, func(ctx context.Context, store storage.Store) error {
		imported, total, err := backup.Import(ctx, store, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d chats.\n", imported, total)
		return nil
	})
}

// runAdminCleanup runs one retention pass through the same scheduler the
// server uses, so the clock guard and audit trail apply.
func runAdminCleanup(cmd *cobra.Command, _ []string) error {
	days := cleanupDays
	if days == 0 {
		days = cfg.Server.RetentionDays
	}
	if days <= 0 {
		return errors.New("no retention window: pass --days or set server.retention_days")
	}
	if cleanupDryRun {
		cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
		fmt.Fprintf(cmd.OutOrStdout(), "Would delete chats last updated before %s.\n", cutoff.Format(time.RFC3339))
		return nil
	}

	return withStore(cmd, func(ctx context.Context, store storage.Store) error {
		scheduler := ttl.NewScheduler(store, ttl.SchedulerConfig{
			RetentionDays: days,
			Audit:         extensions.NewSlogAuditLogger(logger.Slog()),
			Logger:        logger.Slog(),
		})
		result, err := scheduler.RunNow(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d chats last updated before %s.\n",
			result.ChatsDeleted, result.Cutoff.Format(time.RFC3339))
		return nil
	})
}

func runAdminBackup(cmd *cobra.Command, _ []string) error {
	if cfg.Backup.Bucket == "" {
		return errors.New("backup.bucket is not configured")
	}
	if cfg.Backup.CredentialsFile == "" {
		return errors.New("backup.credentials_file is not configured")
	}

	client, err := backup.NewGCSClient(cmd.Context(), cfg.Backup.Bucket, cfg.Backup.CredentialsFile)
	if err != nil {
		return err
	}
	defer client.Close()

	return withStore(cmd, func(ctx context.Context, store storage.Store) error {
		objectPath, n, err := backup.Backup(ctx, store, client, cfg.Backup.Prefix, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d chats to gs://%s/%s\n", n, cfg.Backup.Bucket, objectPath)
		return nil
	})
}

// runAdminVerify checks structural integrity and re-scans stored answers
// with the redaction policy. Answers are redacted before they are stored,
// so any finding means the policy changed or a record was written
// out of band.
func runAdminVerify(cmd *cobra.Command, _ []string) error {
	minConfidence := policy_engine.ConfidenceLevel(verifyMinConfidence)
	switch minConfidence {
	case policy_engine.Low, policy_engine.Medium, policy_engine.High:
	default:
		return fmt.Errorf("--min-confidence must be low, medium, or high")
	}
	engine, err := policy_engine.NewPolicyEngine()
	if err != nil {
		return fmt.Errorf("load redaction policy: %w", err)
	}

	return withStore(cmd, func(ctx context.Context, store storage.Store) error {
		report, err := store.Verify(ctx)
		if err != nil {
			return err
		}
		chats, err := store.ListAll(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Policy %s\n", engine.Fingerprint[:12])
		findings := 0
		for _, chat := range chats {
			for _, msg := range chat.Messages {
				if !msg.IsBot {
					continue
				}
				for _, f := range engine.ScanText(msg.Content) {
					if !f.Confidence.AtLeast(minConfidence) {
						continue
					}
					findings++
					fmt.Fprintf(out, "chat %s message %d: %s (%s, %s confidence)\n",
						chat.ID, msg.Ordinal, f.ClassificationName, f.PatternId, f.Confidence)
				}
			}
		}
		for _, problem := range report.Problems {
			fmt.Fprintln(out, problem)
		}

		summary := fmt.Sprintf("Checked %d chats: %d integrity problems, %d policy findings.",
			report.ChatsChecked, len(report.Problems), findings)
		styles := newStatusStyles(out)
		if !report.OK() || findings > 0 {
			fmt.Fprintln(out, styles.fail.Render(summary))
			return fmt.Errorf("verification failed")
		}
		fmt.Fprintln(out, styles.ok.Render(summary))
		return nil
	})
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
