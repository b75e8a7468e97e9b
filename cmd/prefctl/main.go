// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command prefctl is the operator CLI for the engine service: inspect and
// purge sessions, bind flow templates, and validate template files before
// deploying them.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GymPulseAI/GymPulse/pkg/templates"
	"github.com/GymPulseAI/GymPulse/pkg/ux"
)

var (
	serverURL string
	authToken string

	rootCmd = &cobra.Command{
		Use:   "prefctl",
		Short: "A CLI to manage the GymPulse preference engine",
		Long: `prefctl talks to a running engine service to inspect sessions,
purge client data, and manage conversation flow templates.`,
	}

	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage conversation sessions",
	}
	sessionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists every known (user, session) pair and its conversation step",
		Run:   runSessionsList,
	}
	sessionsShowCmd = &cobra.Command{
		Use:   "show [sessionId]",
		Short: "Shows the preference record for one session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsShow,
	}
	sessionsTranscriptCmd = &cobra.Command{
		Use:   "transcript [sessionId]",
		Short: "Prints the session's conversation log, oldest first",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsTranscript,
	}
	sessionsPurgeCmd = &cobra.Command{
		Use:   "purge [sessionId]",
		Short: "Deletes every stored key for a session",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsPurge,
	}
	sessionsBindCmd = &cobra.Command{
		Use:   "bind [sessionId]",
		Short: "Binds a session to a flow strategy",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsBind,
	}
	bindFlowType     string
	bindTemplateName string
	showUserID       string

	templatesCmd = &cobra.Command{
		Use:   "templates",
		Short: "Manage conversation flow templates",
	}
	templatesValidateCmd = &cobra.Command{
		Use:   "validate [file or directory]",
		Short: "Validates flow template files locally, without a running server",
		Args:  cobra.MinimumNArgs(1),
		Run:   runTemplatesValidate,
	}
	templatesListCmd = &cobra.Command{
		Use:   "list",
		Short: "Lists the templates loaded by the running server",
		Run:   runTemplatesList,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	defaultURL := os.Getenv("ENGINE_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:12300"
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "Engine service base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", os.Getenv("ENGINE_AUTH_TOKEN"), "Bearer token for the engine API")

	sessionsShowCmd.Flags().StringVar(&showUserID, "user", "", "User ID the record belongs to (required)")
	sessionsBindCmd.Flags().StringVar(&bindFlowType, "flow", "legacy", "Flow strategy: legacy, linear, or stateMachine")
	sessionsBindCmd.Flags().StringVar(&bindTemplateName, "template", "", "Template name for non-legacy flows")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsTranscriptCmd,
		sessionsPurgeCmd, sessionsBindCmd)
	templatesCmd.AddCommand(templatesValidateCmd, templatesListCmd)
	rootCmd.AddCommand(sessionsCmd, templatesCmd)
}

// call performs one API request and pretty-prints the JSON response.
func call(method, path string, body io.Reader) {
	client := &http.Client{Timeout: 30 * time.Second}
	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		log.Fatalf("Error building request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Error calling the engine service: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Error reading response: %v", err)
	}
	if resp.StatusCode >= 300 {
		log.Fatalf("Engine returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	var pretty map[string]any
	if err := json.Unmarshal(data, &pretty); err != nil {
		fmt.Println(string(data))
		return
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

func runSessionsList(cmd *cobra.Command, args []string) {
	call(http.MethodGet, "/v1/sessions", nil)
}

func runSessionsShow(cmd *cobra.Command, args []string) {
	if showUserID == "" {
		log.Fatal("--user is required")
	}
	call(http.MethodGet, "/v1/sessions/"+args[0]+"/preferences?userId="+showUserID, nil)
}

func runSessionsTranscript(cmd *cobra.Command, args []string) {
	call(http.MethodGet, "/v1/sessions/"+args[0]+"/transcript", nil)
}

func runSessionsPurge(cmd *cobra.Command, args []string) {
	call(http.MethodDelete, "/v1/sessions/"+args[0], nil)
}

func runSessionsBind(cmd *cobra.Command, args []string) {
	payload, err := json.Marshal(map[string]string{
		"flowType":     bindFlowType,
		"templateName": bindTemplateName,
	})
	if err != nil {
		log.Fatalf("Error building request body: %v", err)
	}
	call(http.MethodPut, "/v1/sessions/"+args[0]+"/flow", strings.NewReader(string(payload)))
}

func runTemplatesList(cmd *cobra.Command, args []string) {
	call(http.MethodGet, "/v1/templates", nil)
}

func runTemplatesValidate(cmd *cobra.Command, args []string) {
	valid, failed := 0, 0
	for _, target := range args {
		for _, path := range expandTemplatePaths(target) {
			tmpl, err := templates.LoadFile(path)
			if err != nil {
				ux.FileStatus(path, ux.IconError, err.Error())
				failed++
				continue
			}
			ux.FileStatus(path, ux.IconSuccess, fmt.Sprintf("%s, %s", tmpl.Name, tmpl.FlowType))
			valid++
		}
	}
	ux.Summary(valid, failed, valid+failed)
	if failed > 0 {
		os.Exit(1)
	}
}

func expandTemplatePaths(target string) []string {
	info, err := os.Stat(target)
	if err != nil {
		log.Fatalf("Error reading %s: %v", target, err)
	}
	if !info.IsDir() {
		return []string{target}
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		log.Fatalf("Error reading directory %s: %v", target, err)
	}
	var paths []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		paths = append(paths, filepath.Join(target, entry.Name()))
	}
	return paths
}
