package models

import "time"

// Transfer strategies.
const (
	StrategySFTP = "sftp"
	StrategyFTP  = "ftp"
)

// TransferConfig selects and configures the artifact transfer strategy.
type TransferConfig struct {
	Strategy string
	Timeout  time.Duration
	SFTP     SFTPSettings
	FTP      FTPSettings
}

// SFTPSettings configures pulling the file from the device over SSH.
type SFTPSettings struct {
	Port               int
	RemoteDir          string
	KnownHostsPath     string
	InsecureSkipVerify bool
}

// FTPSettings configures fetching the file from an intermediary server the device pushed it to.
type FTPSettings struct {
	Server    string
	Port      int
	Username  string // "anonymous" unless set
	Password  Secret
	RemoteDir string
}
