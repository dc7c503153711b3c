package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aethra/domus/internal/models"
	"gorm.io/gorm"
)

// Runtime setting keys
const (
	SettingCompanyName  = "company.name"
	SettingEarlyDays    = "payments.early_days"
	SettingGraceDays    = "payments.grace_days"
	SettingDueSoonDays  = "notifications.due_soon_days"
	SettingRecentDays   = "notifications.recent_days"
	SettingDefaultAdmin = "messaging.default_admin_id"
)

type settingDefault struct {
	value       string
	category    string
	description string
}

var defaultSettings = map[string]settingDefault{
	SettingCompanyName: {"Domus", "company", "Company name printed on exports"},
	SettingEarlyDays:   {"5", "payments", "Days before the due date a payment counts as early"},
	SettingGraceDays:   {"0", "payments", "Days after the due date a payment still counts as on time"},
	SettingDueSoonDays: {"7", "notifications", "Horizon of the payment due soon notification"},
	SettingRecentDays:  {"7", "notifications", "Horizon of the incident updated notification"},
}

// SettingsService serves runtime business settings from the system_config
// table. Values are cached in memory; DOMUS_SETTING_<KEY> environment
// variables take precedence.
type SettingsService struct {
	db    *gorm.DB
	cache map[string]string
	mu    sync.RWMutex
}

// NewSettingsService creates a settings service and warms its cache
func NewSettingsService(db *gorm.DB) *SettingsService {
	svc := &SettingsService{
		db:    db,
		cache: make(map[string]string),
	}
	svc.loadCache()
	return svc
}

func (s *SettingsService) loadCache() {
	var rows []models.SystemConfig
	if err := s.db.Find(&rows).Error; err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.cache[row.Key] = row.Value
	}
}

func envKey(key string) string {
	return EnvPrefix + "_SETTING_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// Get returns a setting, its registered default, or "".
func (s *SettingsService) Get(key string) string {
	if v := os.Getenv(envKey(key)); v != "" {
		return v
	}

	s.mu.RLock()
	v, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return v
	}

	var row models.SystemConfig
	if err := s.db.Where("key = ?", key).First(&row).Error; err == nil {
		s.mu.Lock()
		s.cache[key] = row.Value
		s.mu.Unlock()
		return row.Value
	}

	if d, ok := defaultSettings[key]; ok {
		return d.value
	}
	return ""
}

// GetInt returns a setting as int, or def when unset or malformed
func (s *SettingsService) GetInt(key string, def int) int {
	v := s.Get(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// GetBool returns a setting as bool
func (s *SettingsService) GetBool(key string, def bool) bool {
	v := s.Get(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes"
}

// Set upserts a setting
func (s *SettingsService) Set(key, value, category string, isSecret bool) error {
	row := models.SystemConfig{
		Key:       key,
		Value:     value,
		Category:  category,
		IsSecret:  isSecret,
		UpdatedAt: time.Now(),
	}
	if d, ok := defaultSettings[key]; ok {
		row.Description = d.description
		if category == "" {
			row.Category = d.category
		}
	}

	if err := s.db.Where("key = ?", key).Assign(row).FirstOrCreate(&row).Error; err != nil {
		return err
	}

	s.mu.Lock()
	s.cache[key] = value
	s.mu.Unlock()
	return nil
}

// Delete removes a setting; the registered default applies again
func (s *SettingsService) Delete(key string) error {
	if err := s.db.Where("key = ?", key).Delete(&models.SystemConfig{}).Error; err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}

// All returns every non-secret setting, defaults included
func (s *SettingsService) All() map[string]string {
	result := make(map[string]string, len(defaultSettings))
	for key, d := range defaultSettings {
		result[key] = d.value
	}

	var rows []models.SystemConfig
	if err := s.db.Where("is_secret = ?", false).Find(&rows).Error; err != nil {
		return result
	}
	for _, row := range rows {
		result[row.Key] = row.Value
	}
	return result
}

// SetupDefaults stores the registered defaults that are not yet in the table
func (s *SettingsService) SetupDefaults() error {
	for key, d := range defaultSettings {
		var count int64
		if err := s.db.Model(&models.SystemConfig{}).Where("key = ?", key).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		if err := s.Set(key, d.value, d.category, false); err != nil {
			return err
		}
	}
	return nil
}
