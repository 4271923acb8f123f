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
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/truthwindow/services/backup"
	"github.com/AleutianAI/truthwindow/services/orchestrator"
	"github.com/AleutianAI/truthwindow/services/orchestrator/datatypes"
	"github.com/AleutianAI/truthwindow/services/orchestrator/storage"
)

// execute runs the root command with fresh flag variables.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel = "", ""
	searchLimit, cleanupDays, cleanupDryRun, importDryRun = 10, 0, false, false
	verifyMinConfidence = "medium"
	keyCount, keyLength, keyPrefix = 1, 32, "tw_"

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeTestConfig writes a config using a badger store under dataDir.
func writeTestConfig(t *testing.T, dataDir string, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "truthwindow.yaml")
	body := "server:\n  store_backend: badger\n  data_dir: " + dataDir +
		"\n  llm_backend: ollama\n  ollama_url: http://127.0.0.1:11434\n" + extra
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// seedStore writes two chats into the badger store under dataDir.
func seedStore(t *testing.T, dataDir string, answer string) {
	t.Helper()
	ctx := context.Background()
	store, err := orchestrator.OpenStore(orchestrator.Config{
		StoreBackend: orchestrator.StoreBackendBadger,
		DataDir:      dataDir,
	}, discardLogger())
	require.NoError(t, err)
	defer store.Close()

	chat, err := store.CreateChat(ctx, "Nuevo chat", "owner-a")
	require.NoError(t, err)
	_, err = store.AppendMessages(ctx, chat.ID, []datatypes.Message{
		{Content: "¿Qué documenta el Tomo 5?"},
		{IsBot: true, Content: answer},
	}, storage.AppendOptions{FirstMessageTitle: "¿Qué documenta el Tomo 5?"})
	require.NoError(t, err)

	_, err = store.CreateChat(ctx, "Otro chat", "owner-b")
	require.NoError(t, err)
}

func TestKeysGenerate(t *testing.T) {
	out, err := execute(t, "keys", "generate", "--count", "3", "--length", "16", "--prefix", "cev_")
	require.NoError(t, err)

	keys := strings.Fields(out)
	require.Len(t, keys, 3)
	for _, key := range keys {
		require.True(t, strings.HasPrefix(key, "cev_"))
		raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(key, "cev_"))
		require.NoError(t, err)
		assert.Len(t, raw, 16)
	}
	assert.NotEqual(t, keys[0], keys[1])
}

func TestKeysGenerate_Rejects(t *testing.T) {
	_, err := execute(t, "keys", "generate", "--length", "8")
	assert.Error(t, err)

	_, err = execute(t, "keys", "generate", "--count", "0")
	assert.Error(t, err)
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truthwindow.yaml")

	out, err := execute(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	_, err = execute(t, "config", "init", path)
	assert.Error(t, err, "init never overwrites")

	t.Setenv("API_KEYS", "secret-key-value")
	out, err = execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "port: 12210")
	assert.Contains(t, out, "secr******")
	assert.NotContains(t, out, "secret-key-value")
}

func TestRoot_BadLogLevel(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "logging:\n  level: loud\n")
	_, err := execute(t, "--config", path, "admin", "stats")
	assert.Error(t, err)
}

func TestAdmin_StatsAndSearch(t *testing.T) {
	dataDir := t.TempDir()
	seedStore(t, dataDir, "Documenta el impacto del conflicto armado [1].")
	path := writeTestConfig(t, dataDir, "")

	out, err := execute(t, "--config", path, "admin", "stats")
	require.NoError(t, err)
	assert.Regexp(t, `Chats:\s+2`, out)
	assert.Regexp(t, `Messages:\s+2`, out)
	assert.Regexp(t, `answers:\s+1`, out)

	out, err = execute(t, "--config", path, "admin", "search", "conflicto")
	require.NoError(t, err)
	assert.Contains(t, out, "bot")
	assert.Contains(t, out, "Documenta el impacto")

	out, err = execute(t, "--config", path, "admin", "search", "inexistente")
	require.NoError(t, err)
	assert.Contains(t, out, "No messages found.")
}

func TestAdmin_ExportImport(t *testing.T) {
	srcDir := t.TempDir()
	seedStore(t, srcDir, "Documenta el impacto del conflicto.")
	srcConfig := writeTestConfig(t, srcDir, "")

	archivePath := filepath.Join(t.TempDir(), "archive.json")
	_, err := execute(t, "--config", srcConfig, "admin", "export", archivePath)
	require.NoError(t, err)

	f, err := os.Open(archivePath)
	require.NoError(t, err)
	archive, err := backup.ReadArchive(f)
	f.Close()
	require.NoError(t, err)
	assert.Len(t, archive.Chats, 2)

	dstConfig := writeTestConfig(t, t.TempDir(), "")
	out, err := execute(t, "--config", dstConfig, "admin", "import", "--dry-run", archivePath)
	require.NoError(t, err)
	assert.Contains(t, out, "holds 2 chats")

	out, err = execute(t, "--config", dstConfig, "admin", "stats")
	require.NoError(t, err)
	assert.Regexp(t, `Chats:\s+0`, out, "dry run writes nothing")

	out, err = execute(t, "--config", dstConfig, "admin", "import", archivePath)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 2 of 2 chats.")

	out, err = execute(t, "--config", dstConfig, "admin", "stats")
	require.NoError(t, err)
	assert.Regexp(t, `Chats:\s+2`, out)
}

func TestAdmin_ExportToStdout(t *testing.T) {
	dataDir := t.TempDir()
	seedStore(t, dataDir, "Respuesta.")
	out, err := execute(t, "--config", writeTestConfig(t, dataDir, ""), "admin", "export")
	require.NoError(t, err)

	archive, err := backup.ReadArchive(strings.NewReader(out))
	require.NoError(t, err)
	assert.Len(t, archive.Chats, 2)
}

func TestAdmin_Cleanup(t *testing.T) {
	dataDir := t.TempDir()
	seedStore(t, dataDir, "Respuesta.")
	path := writeTestConfig(t, dataDir, "")

	_, err := execute(t, "--config", path, "admin", "cleanup")
	assert.Error(t, err, "no retention window configured")

	out, err := execute(t, "--config", path, "admin", "cleanup", "--days", "30", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Would delete")

	out, err = execute(t, "--config", path, "admin", "cleanup", "--days", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 chats")

	withRetention := writeTestConfig(t, dataDir, "  retention_days: 7\n")
	out, err = execute(t, "--config", withRetention, "admin", "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 0 chats")
}

func TestAdmin_Backup_RequiresBucket(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "")
	_, err := execute(t, "--config", path, "admin", "backup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup.bucket")

	withBucket := writeTestConfig(t, t.TempDir(), "backup:\n  bucket: cev-backups\n  credentials_file: /nonexistent/key.json\n")
	_, err = execute(t, "--config", withBucket, "admin", "backup")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service account key not found")
}

func TestAdmin_Verify(t *testing.T) {
	clean := t.TempDir()
	seedStore(t, clean, "Documenta el impacto del conflicto.")
	out, err := execute(t, "--config", writeTestConfig(t, clean, ""), "admin", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "Checked 2 chats: 0 integrity problems, 0 policy findings.")

	leaky := t.TempDir()
	seedStore(t, leaky, "Escriba a ana@example.org para más información.")
	out, err = execute(t, "--config", writeTestConfig(t, leaky, ""), "admin", "verify")
	require.Error(t, err)
	assert.Regexp(t, `[1-9]\d* policy findings`, out)
	assert.Contains(t, out, "message 1")

	_, err = execute(t, "--config", writeTestConfig(t, leaky, ""), "admin", "verify", "--min-confidence", "certain")
	assert.Error(t, err)
}

func TestValidate_Lightweight(t *testing.T) {
	path := writeTestConfig(t, t.TempDir(), "")
	out, err := execute(t, "--config", path, "validate")
	require.NoError(t, err)
	assert.Regexp(t, `session store\s+ok`, out)
	assert.Contains(t, out, "no weaviate_url")
	assert.Regexp(t, `llm credentials\s+skipped`, out)
}

func TestValidate_ReportsFailures(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	keyPath := filepath.Join(t.TempDir(), "absent")
	path := writeTestConfig(t, t.TempDir(), "  weaviate_url: not-a-url\n  openai_key_file: "+keyPath+"\n")
	out, err := execute(t, "--config", path, "validate")
	require.Error(t, err)
	assert.Contains(t, out, "FAILED")
	assert.Regexp(t, `session store\s+ok`, out, "one failing check does not hide the others")
}
