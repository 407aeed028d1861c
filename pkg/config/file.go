package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/charlie0129/hp3245cal/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		SerialPort:       ptr.To("/dev/ttyUSB0"),
		DUTAddress:       ptr.To(9),
		DVMAddress:       ptr.To(22),
		CommandTimeoutMs: ptr.To(10000),
		ReadTimeoutMs:    ptr.To(25000),
		CommitTimeoutMs:  ptr.To(60000),
		SlowReadMs:       ptr.To(15000),
		CalibrationCode:  ptr.To(3245),
		ReportDir:        ptr.To("."),
		ACalSchedule:     ptr.To(""),
		ACalKind:         ptr.To("DCV"),
	}
)

var _ Config = &File{}

// File is a Config backed by a JSON (*.json) or YAML (anything else) file.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// NewFile loads configPath. A missing or empty file yields the defaults.
func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

// NewFileFromConfig wraps an in-memory config. A nil c means defaults.
func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// RawFileConfig is the on-disk form. Unset fields fall back to defaults.
type RawFileConfig struct {
	SerialPort       *string `json:"serialPort,omitempty" yaml:"serialPort,omitempty"`
	DUTAddress       *int    `json:"dutAddress,omitempty" yaml:"dutAddress,omitempty"`
	DVMAddress       *int    `json:"dvmAddress,omitempty" yaml:"dvmAddress,omitempty"`
	CommandTimeoutMs *int    `json:"commandTimeoutMs,omitempty" yaml:"commandTimeoutMs,omitempty"`
	ReadTimeoutMs    *int    `json:"readTimeoutMs,omitempty" yaml:"readTimeoutMs,omitempty"`
	CommitTimeoutMs  *int    `json:"commitTimeoutMs,omitempty" yaml:"commitTimeoutMs,omitempty"`
	SlowReadMs       *int    `json:"slowReadMs,omitempty" yaml:"slowReadMs,omitempty"`
	CalibrationCode  *int    `json:"calibrationCode,omitempty" yaml:"calibrationCode,omitempty"`
	ReportDir        *string `json:"reportDir,omitempty" yaml:"reportDir,omitempty"`
	ACalSchedule     *string `json:"acalSchedule,omitempty" yaml:"acalSchedule,omitempty"`
	ACalKind         *string `json:"acalKind,omitempty" yaml:"acalKind,omitempty"`
}

func valueOr[T any](v, def *T) T {
	if v != nil {
		return *v
	}
	return *def
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (f *File) raw() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) SerialPort() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().SerialPort, defaultFileConfig.SerialPort)
}

func (f *File) DUTAddress() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().DUTAddress, defaultFileConfig.DUTAddress)
}

func (f *File) DVMAddress() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().DVMAddress, defaultFileConfig.DVMAddress)
}

func (f *File) CommandTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ms(valueOr(f.raw().CommandTimeoutMs, defaultFileConfig.CommandTimeoutMs))
}

func (f *File) ReadTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ms(valueOr(f.raw().ReadTimeoutMs, defaultFileConfig.ReadTimeoutMs))
}

// CommitTimeout is the command timeout of the last calibration step, during
// which the source writes its calibration table.
func (f *File) CommitTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ms(valueOr(f.raw().CommitTimeoutMs, defaultFileConfig.CommitTimeoutMs))
}

func (f *File) SlowReadThreshold() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ms(valueOr(f.raw().SlowReadMs, defaultFileConfig.SlowReadMs))
}

func (f *File) CalibrationCode() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().CalibrationCode, defaultFileConfig.CalibrationCode)
}

func (f *File) ReportDir() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().ReportDir, defaultFileConfig.ReportDir)
}

// ACalSchedule is a cron expression; empty disables scheduled ACAL.
func (f *File) ACalSchedule() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().ACalSchedule, defaultFileConfig.ACalSchedule)
}

func (f *File) ACalKind() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return valueOr(f.raw().ACalKind, defaultFileConfig.ACalKind)
}

func (f *File) SetSerialPort(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().SerialPort = &s
}

func (f *File) SetReportDir(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().ReportDir = &s
}

func (f *File) SetACalSchedule(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.raw().ACalSchedule = &s
}

func (f *File) isJSON() bool {
	return strings.EqualFold(filepath.Ext(f.filepath), ".json")
}

// validate checks values that would otherwise fail deep inside a run.
func (c *RawFileConfig) validate() error {
	for name, addr := range map[string]*int{"dutAddress": c.DUTAddress, "dvmAddress": c.DVMAddress} {
		if addr != nil && (*addr < 0 || *addr > 30) {
			return fmt.Errorf("%s must be between 0 and 30, got %d", name, *addr)
		}
	}
	dut := valueOr(c.DUTAddress, defaultFileConfig.DUTAddress)
	if dut == valueOr(c.DVMAddress, defaultFileConfig.DVMAddress) {
		return fmt.Errorf("dutAddress and dvmAddress must differ, both are %d", dut)
	}
	for name, v := range map[string]*int{
		"commandTimeoutMs": c.CommandTimeoutMs,
		"readTimeoutMs":    c.ReadTimeoutMs,
		"commitTimeoutMs":  c.CommitTimeoutMs,
		"slowReadMs":       c.SlowReadMs,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, *v)
		}
	}
	return nil
}

func (f *File) Path() string {
	return f.filepath
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if f.isJSON() {
		err = json.Unmarshal(b, &conf)
	} else {
		err = yaml.Unmarshal(b, &conf)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if err := conf.validate(); err != nil {
		return pkgerrors.Wrapf(err, "invalid config in %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	if f.isJSON() {
		enc := json.NewEncoder(fp)
		enc.SetIndent("", "  ")
		err = enc.Encode(f.c)
	} else {
		enc := yaml.NewEncoder(fp)
		enc.SetIndent(2)
		err = enc.Encode(f.c)
		if err == nil {
			err = enc.Close()
		}
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"serialPort":      f.SerialPort(),
		"dutAddress":      f.DUTAddress(),
		"dvmAddress":      f.DVMAddress(),
		"commandTimeout":  f.CommandTimeout(),
		"readTimeout":     f.ReadTimeout(),
		"commitTimeout":   f.CommitTimeout(),
		"slowRead":        f.SlowReadThreshold(),
		"calibrationCode": f.CalibrationCode(),
		"reportDir":       f.ReportDir(),
		"acalSchedule":    f.ACalSchedule(),
	}
}
