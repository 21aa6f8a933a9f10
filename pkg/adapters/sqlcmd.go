package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// SQLCmdConnector runs a query through the sqlcmd command-line client and parses its
// comma-delimited output:
//
//	sqlcmd -S localhost,30001 -U SA -d MonitoringDB -Q "<query>" -s , -W -b
//
// The password is passed through the SQLCMDPASSWORD environment variable rather than on
// the command line.
type SQLCmdConnector struct {
	// Command is the client binary. Defaults to "sqlcmd".
	Command string
	// Server is the "host,port" to connect to (required).
	Server string
	// User is the SQL login.
	User string
	// Password is exported to the child process as SQLCMDPASSWORD.
	Password string
	// Database selects the database (-d).
	Database string
	// Timeout bounds one invocation. Defaults to 60s.
	Timeout time.Duration

	// run executes the command; tests replace it.
	run func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)
}

func (s *SQLCmdConnector) Name() string { return "sqlcmd" }

// Fetch implements Connector. q.Text is the SQL statement to execute.
func (s *SQLCmdConnector) Fetch(ctx context.Context, q Query) (*DataFrame, error) {
	if s.Server == "" {
		return nil, errors.New("sqlcmd connector: server is required")
	}
	if strings.TrimSpace(q.Text) == "" {
		return nil, errors.New("sqlcmd connector: query is required")
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	command := s.Command
	if command == "" {
		command = "sqlcmd"
	}

	run := s.run
	if run == nil {
		run = runCommand
	}

	out, err := run(ctx, s.env(), command, s.args(q.Text)...)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", command, err)
	}

	df, err := readCSVFrame(bytes.NewReader(out), ',')
	if err != nil {
		return nil, fmt.Errorf("parse %s output: %w", command, err)
	}
	return df, nil
}

func (s *SQLCmdConnector) args(query string) []string {
	args := []string{"-S", s.Server}
	if s.User != "" {
		args = append(args, "-U", s.User)
	}
	if s.Database != "" {
		args = append(args, "-d", s.Database)
	}
	return append(args, "-Q", query, "-s", ",", "-W", "-b")
}

func (s *SQLCmdConnector) env() []string {
	if s.Password == "" {
		return nil
	}
	return []string{"SQLCMDPASSWORD=" + s.Password}
}

func runCommand(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		if len(msg) > 1024 {
			msg = msg[:1024]
		}
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
