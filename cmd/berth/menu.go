package main

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/berth-dev/berth/internal/errors"
	"github.com/berth-dev/berth/internal/manager"
)

// runMenu drives the interactive session a bare `berth` invocation
// starts. Each action maps onto the same helpers the subcommands use,
// so the menu and the flags can never drift apart.
func runMenu() error {
	printBanner()
	fmt.Println("  Manage local static file servers")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Println("  1) Start a server")
		fmt.Println("  2) Stop a server")
		fmt.Println("  3) Restart a server")
		fmt.Println("  4) List servers")
		fmt.Println("  5) View logs")
		fmt.Println("  6) Open in browser")
		fmt.Println("  7) Show stats")
		fmt.Println("  8) Clean up")
		fmt.Println("  q) Quit")
		fmt.Println()

		choice, err := prompt(reader, "berth> ")
		if err != nil {
			if stderrors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}

		if err := dispatchMenu(reader, choice); err != nil {
			if stderrors.Is(err, errQuit) {
				return nil
			}
			var be *errors.BerthError
			if stderrors.As(err, &be) {
				fmt.Print(be.Format())
			} else {
				errorMsg("%s", err)
			}
		}
		fmt.Println()
	}
}

// errQuit signals a clean exit from the menu loop.
var errQuit = stderrors.New("quit")

func dispatchMenu(reader *bufio.Reader, choice string) error {
	switch choice {
	case "1", "start":
		return menuStart(reader)
	case "2", "stop":
		sel, err := promptSelector(reader)
		if err != nil {
			return err
		}
		return runStop(sel)
	case "3", "restart":
		sel, err := promptSelector(reader)
		if err != nil {
			return err
		}
		return runRestart(sel)
	case "4", "list", "ls":
		return runList()
	case "5", "logs":
		return menuLogs(reader)
	case "6", "open":
		sel, err := promptSelector(reader)
		if err != nil {
			return err
		}
		return runOpen(sel)
	case "7", "stats":
		sel, err := promptSelector(reader)
		if err != nil {
			return err
		}
		return runStats(sel)
	case "8", "cleanup":
		return runCleanup(context.Background())
	case "q", "quit", "exit", "":
		return errQuit
	default:
		return errors.Newf(errors.CategoryCLI, "unknown choice %q", choice)
	}
}

func menuStart(reader *bufio.Reader) error {
	dir, err := prompt(reader, "? Directory to serve [.]: ")
	if err != nil {
		return err
	}
	if dir == "" {
		dir = "."
	}

	portStr, err := prompt(reader, "? Port [from config]: ")
	if err != nil {
		return err
	}
	port := 0
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return errors.Newf(errors.CategoryCLI, "%q is not a valid port", portStr)
		}
	}

	findPort, err := promptYesNo(reader, "? Scan for a free port if taken? [y/N] ", false)
	if err != nil {
		return err
	}
	open, err := promptYesNo(reader, "? Open in browser? [y/N] ", false)
	if err != nil {
		return err
	}

	mode := manager.Background
	if open {
		mode = manager.BackgroundOpen
	}
	return runStart(manager.StartOptions{
		Directory: dir,
		Port:      port,
		FindPort:  findPort,
		Mode:      mode,
	})
}

func menuLogs(reader *bufio.Reader) error {
	sel, err := promptSelector(reader)
	if err != nil {
		return err
	}
	follow, err := promptYesNo(reader, "? Follow output? [y/N] ", false)
	if err != nil {
		return err
	}
	return runLogs(sel, 20, follow)
}

// promptSelector asks for a port number.
func promptSelector(reader *bufio.Reader) (manager.Selector, error) {
	answer, err := prompt(reader, "? Port: ")
	if err != nil {
		return manager.Selector{}, err
	}
	port, err := strconv.Atoi(answer)
	if err != nil || port < 1 || port > 65535 {
		return manager.Selector{}, errors.Newf(errors.CategoryCLI, "%q is not a valid port", answer)
	}
	return manager.Selector{Port: port}, nil
}

func prompt(reader *bufio.Reader, label string) (string, error) {
	fmt.Print(label)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func promptYesNo(reader *bufio.Reader, label string, def bool) (bool, error) {
	answer, err := prompt(reader, label)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	default:
		return def, nil
	}
}
