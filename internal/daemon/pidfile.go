package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"firestige.xyz/lswitch/internal/log"
)

// writePIDFile writes the current process ID to the PID file.
func writePIDFile(path string) error {
	if path == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}

	log.GetLogger().WithFields(map[string]interface{}{"path": path, "pid": pid}).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file.
func removePIDFile(path string) error {
	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}
	return nil
}

// ReadPIDFile returns the PID stored in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, nil
}

// SignalStop sends SIGTERM to the controller recorded in the PID file.
func SignalStop(pidFile string) (int, error) {
	return signalPID(pidFile, unix.SIGTERM)
}

// SignalReload sends SIGHUP to the controller recorded in the PID file.
func SignalReload(pidFile string) (int, error) {
	return signalPID(pidFile, unix.SIGHUP)
}

func signalPID(pidFile string, sig unix.Signal) (int, error) {
	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("controller not running: %w", err)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return pid, fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}
	return pid, nil
}
