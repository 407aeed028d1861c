package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the bench configuration: where the instruments are and how long
// to wait for them.
type Config interface {
	SerialPort() string
	DUTAddress() int
	DVMAddress() int
	CommandTimeout() time.Duration
	ReadTimeout() time.Duration
	CommitTimeout() time.Duration
	SlowReadThreshold() time.Duration
	CalibrationCode() int
	ReportDir() string
	ACalSchedule() string
	ACalKind() string

	SetSerialPort(string)
	SetReportDir(string)
	SetACalSchedule(string)

	LogrusFields() logrus.Fields

	// Path is the backing file, or "" for an in-memory config.
	Path() string

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
