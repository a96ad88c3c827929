package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/collab"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf    *core.Config
	db      *sql.DB
	archive collab.ArchiveRepository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS]                - run a goose migration command (up, down, status, ...)")
	fmt.Println("  showarchive -session ID               - print the archived snapshot of a completed session")
	fmt.Println("  purgearchives [-older-than DURATION]  - delete archived snapshots older than the given duration")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	showArchiveCmd := flag.NewFlagSet("showarchive", flag.ExitOnError)
	showArchiveSession := showArchiveCmd.String("session", "", "The session ID.")

	purgeArchivesCmd := flag.NewFlagSet("purgearchives", flag.ExitOnError)
	purgeArchivesOlderThan := purgeArchivesCmd.Duration(
		"older-than", cli.conf.Collab.SnapshotRetention, "Minimum age of the snapshots to delete.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "showarchive":
		if err := showArchiveCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *showArchiveSession == "" {
			showArchiveCmd.Usage()
			return errHelp
		}
		return cli.showArchive(*showArchiveSession)
	case "purgearchives":
		if err := purgeArchivesCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.purgeArchives(*purgeArchivesOlderThan)
	default:
		cli.printUsage()
		return errHelp
	}
}
