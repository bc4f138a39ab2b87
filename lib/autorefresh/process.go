package autorefresh

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/segmentio/aws-assume/profiles"
)

// CommandName is the hidden subcommand the daemon runs under.
const CommandName = "autorefresh"

// CredentialsFileFlag names the credentials file a daemon looks after.
const CredentialsFileFlag = "--credentials-file"

// Spawn starts the daemon detached from the current process, appending its
// output to logFile. args are global flags passed on to the daemon, which
// must include the credentials file holding the bookkeeping.
func Spawn(logFile string, args ...string) (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 0, xerrors.Errorf("finding executable: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		return 0, xerrors.Errorf("creating log directory: %w", err)
	}
	out, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return 0, xerrors.Errorf("opening %s: %w", logFile, err)
	}
	defer out.Close()

	cmd := daemonCommand(self, args)
	cmd.Stdout = out
	cmd.Stderr = out
	if err := cmd.Start(); err != nil {
		return 0, xerrors.Errorf("starting auto-refresh: %w", err)
	}
	pid := cmd.Process.Pid
	log.Debugf("auto-refresh started as pid %d, logging to %s", pid, logFile)
	return pid, cmd.Process.Release()
}

// daemonCommand keeps CommandName right after the binary, where isDaemon
// looks for it.
func daemonCommand(self string, args []string) *exec.Cmd {
	cmd := exec.Command(self, append([]string{CommandName}, args...)...)
	cmd.SysProcAttr = detached()
	return cmd
}

// Process is the part of a running process Kill needs.
type Process interface {
	CmdlineSlice() ([]string, error)
	Kill() error
}

// ProcessLister returns running processes keyed by pid.
type ProcessLister func() (map[int32]Process, error)

func listProcesses() (map[int32]Process, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make(map[int32]Process, len(procs))
	for _, p := range procs {
		out[p.Pid] = p
	}
	return out, nil
}

// Killer stops daemons and drops their bookkeeping.
type Killer struct {
	Store Store
	List  ProcessLister
	// Binary is the executable whose daemons are stopped, Self the pid
	// never to signal.
	Binary string
	Self   int32
	// CredentialsFile, when set, limits Kill and StopDaemons to daemons
	// started for that file.
	CredentialsFile string
}

func NewKiller(store Store, credentialsFile string) (*Killer, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, xerrors.Errorf("finding executable: %w", err)
	}
	return &Killer{
		Store:           store,
		List:            listProcesses,
		Binary:          self,
		Self:            int32(os.Getpid()),
		CredentialsFile: credentialsFile,
	}, nil
}

// Kill stops auto-refresh for target. With an empty target every daemon is
// stopped and all bookkeeping removed. Otherwise only target's bookkeeping is
// removed, and the daemons stopped once no bookkeeping is left. It returns
// the number of processes signalled.
func (k *Killer) Kill(target string) (int, error) {
	if target != "" {
		if err := k.Store.Delete(profiles.BookkeepingName(target)); err != nil {
			return 0, err
		}
		left, err := k.Store.Bookkeeping()
		if err != nil {
			return 0, err
		}
		if len(left) > 0 {
			log.Debugf("%d auto-refresh profiles left, daemon kept running", len(left))
			return 0, nil
		}
		return k.StopDaemons()
	}

	n, err := k.StopDaemons()
	if err != nil {
		return n, err
	}
	left, err := k.Store.Bookkeeping()
	if err != nil {
		return n, err
	}
	for name := range left {
		if err := k.Store.Delete(name); err != nil {
			return n, err
		}
	}
	return n, nil
}

// StopDaemons signals every running daemon and leaves the bookkeeping alone.
// It returns the number of processes signalled.
func (k *Killer) StopDaemons() (int, error) {
	procs, err := k.List()
	if err != nil {
		return 0, xerrors.Errorf("listing processes: %w", err)
	}
	base := filepath.Base(k.Binary)
	killed := 0
	for pid, p := range procs {
		if pid == k.Self {
			continue
		}
		// processes may exit while being listed
		argv, err := p.CmdlineSlice()
		if err != nil || !isDaemon(argv, base) {
			continue
		}
		if k.CredentialsFile != "" && flagValue(argv, CredentialsFileFlag) != k.CredentialsFile {
			continue
		}
		if err := p.Kill(); err != nil {
			log.Warnf("killing pid %d: %s", pid, err)
			continue
		}
		log.Debugf("killed auto-refresh pid %d", pid)
		killed++
	}
	return killed, nil
}

func isDaemon(argv []string, binary string) bool {
	return len(argv) >= 2 && filepath.Base(argv[0]) == binary && argv[1] == CommandName
}

// flagValue returns the value of a long flag given as "--name value" or
// "--name=value".
func flagValue(argv []string, name string) string {
	for i, arg := range argv {
		if arg == name && i+1 < len(argv) {
			return argv[i+1]
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"=")
		}
	}
	return ""
}
