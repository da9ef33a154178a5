package upstreamlimit

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ScheduleConfig is the on-disk shape of the QuotaExhausted escalation
// ladder: wait seconds indexed by consecutive-failure count.
type ScheduleConfig struct {
	QuotaExhaustedSchedule []uint64 `json:"quotaExhaustedSchedule"`
}

// DefaultScheduleConfig returns the schedule used when no config file
// is present yet.
func DefaultScheduleConfig() ScheduleConfig {
	return ScheduleConfig{QuotaExhaustedSchedule: []uint64{60, 300, 900, 3600, 7200}}
}

// ScheduleConfigManager hot-reloads the backoff schedule from a JSON
// file, watching its directory with fsnotify so edits take effect
// without a restart.
type ScheduleConfigManager struct {
	mu         sync.RWMutex
	config     ScheduleConfig
	configFile string
	watcher    *fsnotify.Watcher
	onChange   func(ScheduleConfig)
}

// NewScheduleConfigManager loads configFile (writing defaults to it if
// absent) and starts watching it for changes.
func NewScheduleConfigManager(configFile string) (*ScheduleConfigManager, error) {
	cm := &ScheduleConfigManager{configFile: configFile}

	if err := cm.loadConfig(); err != nil {
		log.Printf("schedule config file not found, using defaults: %v", err)
		cm.config = cloneScheduleConfig(DefaultScheduleConfig())
		if err := cm.saveConfig(); err != nil {
			log.Printf("failed to save default schedule config: %v", err)
		}
	}

	if err := cm.startWatcher(); err != nil {
		log.Printf("failed to start schedule config watcher: %v", err)
	}

	return cm, nil
}

func (cm *ScheduleConfigManager) loadConfig() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := os.ReadFile(cm.configFile)
	if err != nil {
		return err
	}

	var cfg ScheduleConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	if err := validateScheduleConfig(cfg); err != nil {
		return err
	}

	cm.config = cloneScheduleConfig(cfg)
	log.Printf("schedule config loaded: %d rungs", len(cfg.QuotaExhaustedSchedule))
	return nil
}

func (cm *ScheduleConfigManager) saveConfig() error {
	dir := filepath.Dir(cm.configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	cm.mu.RLock()
	cfg := cloneScheduleConfig(cm.config)
	cm.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(cm.configFile, data, 0644)
}

func (cm *ScheduleConfigManager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	cm.watcher = watcher

	configBase := filepath.Base(cm.configFile)

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != configBase {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					log.Printf("schedule config file updated, reloading...")
					if err := cm.loadConfig(); err != nil {
						log.Printf("failed to reload schedule config: %v", err)
						continue
					}

					cm.mu.RLock()
					cfg := cloneScheduleConfig(cm.config)
					cb := cm.onChange
					cm.mu.RUnlock()

					if cb != nil {
						cb(cfg)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("schedule config watcher error: %v", err)
			}
		}
	}()

	dir := filepath.Dir(cm.configFile)
	if err := watcher.Add(dir); err != nil {
		return watcher.Add(cm.configFile)
	}
	return nil
}

// SetOnChangeCallback registers a callback invoked after a successful
// hot-reload.
func (cm *ScheduleConfigManager) SetOnChangeCallback(callback func(ScheduleConfig)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onChange = callback
}

// GetSchedule returns the current QuotaExhausted escalation ladder.
func (cm *ScheduleConfigManager) GetSchedule() []uint64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]uint64, len(cm.config.QuotaExhaustedSchedule))
	copy(out, cm.config.QuotaExhaustedSchedule)
	return out
}

// UpdateSchedule validates and persists a new escalation ladder.
func (cm *ScheduleConfigManager) UpdateSchedule(schedule []uint64) error {
	cfg := ScheduleConfig{QuotaExhaustedSchedule: schedule}
	if err := validateScheduleConfig(cfg); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(cm.configFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(cm.configFile, data, 0644); err != nil {
		return err
	}

	cm.mu.Lock()
	cm.config = cloneScheduleConfig(cfg)
	cb := cm.onChange
	out := cloneScheduleConfig(cm.config)
	cm.mu.Unlock()

	if cb != nil {
		cb(out)
	}
	return nil
}

// Close stops the file watcher.
func (cm *ScheduleConfigManager) Close() error {
	if cm.watcher != nil {
		return cm.watcher.Close()
	}
	return nil
}

func validateScheduleConfig(cfg ScheduleConfig) error {
	for i, seconds := range cfg.QuotaExhaustedSchedule {
		if seconds == 0 {
			return fmt.Errorf("quotaExhaustedSchedule[%d] must be positive", i)
		}
		if i > 0 && seconds < cfg.QuotaExhaustedSchedule[i-1] {
			return fmt.Errorf("quotaExhaustedSchedule must be non-decreasing")
		}
	}
	return nil
}

func cloneScheduleConfig(cfg ScheduleConfig) ScheduleConfig {
	out := make([]uint64, len(cfg.QuotaExhaustedSchedule))
	copy(out, cfg.QuotaExhaustedSchedule)
	return ScheduleConfig{QuotaExhaustedSchedule: out}
}
