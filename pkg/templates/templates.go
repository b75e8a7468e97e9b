// Copyright (C) 2025 GymPulse AI (engineering@gympulseai.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package templates loads and serves conversation flow templates.
//
// Templates are YAML files, one FlowTemplate per file, living in a single
// directory. The registry validates each file on load and can hot-reload
// the directory on change; an invalid file is rejected and the previously
// loaded version stays live.
package templates

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/GymPulseAI/GymPulse/services/engine/datatypes"
)

// reloadDebounce batches editor write bursts into one reload.
const reloadDebounce = 250 * time.Millisecond

var validate = validator.New()

// Registry holds the currently loaded templates by name.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*datatypes.FlowTemplate
	logger    *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		templates: make(map[string]*datatypes.FlowTemplate),
		logger:    logger,
	}
}

// Template returns the named template, or nil if unknown.
func (r *Registry) Template(name string) *datatypes.FlowTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[name]
}

// Names returns the loaded template names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}
	return names
}

// LoadFile parses and validates one template file.
func LoadFile(path string) (*datatypes.FlowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	var tmpl datatypes.FlowTemplate
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	if err := Validate(&tmpl); err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return &tmpl, nil
}

// Validate checks a template beyond struct tags: state-machine edges must
// point at declared states and the initial state must exist.
func Validate(tmpl *datatypes.FlowTemplate) error {
	if err := validate.Struct(tmpl); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	if tmpl.FlowType != datatypes.FlowStateMachine {
		return nil
	}

	sm := tmpl.StateMachine
	if _, ok := sm.States[sm.InitialState]; !ok {
		return fmt.Errorf("initialState %q is not a declared state", sm.InitialState)
	}
	for _, final := range sm.FinalStates {
		if _, ok := sm.States[final]; !ok {
			return fmt.Errorf("final state %q is not a declared state", final)
		}
	}
	for id, node := range sm.States {
		for cond, next := range node.NextStates {
			if _, ok := sm.States[next]; !ok {
				return fmt.Errorf("state %q edge %q points at unknown state %q", id, cond, next)
			}
		}
	}
	return nil
}

// LoadDir loads every *.yaml and *.yml file in dir into the registry,
// replacing the current set. Invalid files are skipped with a log line;
// loading an empty or missing directory clears the registry.
func (r *Registry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			r.mu.Lock()
			r.templates = make(map[string]*datatypes.FlowTemplate)
			r.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read template dir %s: %w", dir, err)
	}

	loaded := make(map[string]*datatypes.FlowTemplate)
	for _, entry := range entries {
		if entry.IsDir() || !isTemplateFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		tmpl, err := LoadFile(path)
		if err != nil {
			r.logger.Error("flow template rejected", "path", path, "error", err)
			continue
		}
		if _, dup := loaded[tmpl.Name]; dup {
			r.logger.Error("duplicate flow template name, later file skipped",
				"path", path, "name", tmpl.Name)
			continue
		}
		loaded[tmpl.Name] = tmpl
	}

	r.mu.Lock()
	r.templates = loaded
	r.mu.Unlock()
	r.logger.Info("flow templates loaded", "dir", dir, "count", len(loaded))
	return nil
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

// Watch reloads the directory whenever a template file changes. Write
// bursts are debounced. Call Close to stop watching.
func (r *Registry) Watch(dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	r.watcher = watcher
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isTemplateFile(filepath.Base(event.Name)) {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(reloadDebounce)
					timerC = timer.C
				} else {
					timer.Reset(reloadDebounce)
				}
			case <-timerC:
				timer = nil
				timerC = nil
				if err := r.LoadDir(dir); err != nil {
					r.logger.Error("flow template reload failed", "dir", dir, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("template watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher, if one is running.
func (r *Registry) Close() error {
	if r.watcher == nil {
		return nil
	}
	err := r.watcher.Close()
	<-r.done
	r.watcher = nil
	return err
}
