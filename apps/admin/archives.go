package main

import (
	"context"
	"fmt"
	"time"
)

var nowFunc = time.Now // mockable

func (cli *commandLine) showArchive(sessionID string) error {
	arch, err := cli.archive.GetArchivedSession(context.Background(), sessionID)
	if err != nil {
		return err
	}
	fmt.Printf("Session:      %s\n", arch.SessionID)
	fmt.Printf("Title:        %s\n", arch.Title)
	fmt.Printf("Language:     %s\n", arch.Language)
	fmt.Printf("Participants: %d\n", arch.Participants)
	fmt.Printf("Completed:    %s\n", arch.CompletedAt.Format(time.RFC3339))
	fmt.Println("---")
	fmt.Println(arch.Text)
	return nil
}

func (cli *commandLine) purgeArchives(olderThan time.Duration) error {
	n, err := cli.archive.DeleteArchivesBefore(context.Background(), nowFunc().UTC().Add(-olderThan))
	if err != nil {
		return err
	}
	fmt.Printf("purged %d archived snapshot(s)\n", n)
	return nil
}
