/*
Package cli provides command-line utilities shared by the callisto command.

Output Formatting:

Command results can be rendered as text or JSON:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Progress Reporting:

For operations that touch each pooled account in turn:

	progress := cli.NewProgressReporter(os.Stdout)
	progress.Start(int64(len(accounts)))
	for i, account := range accounts {
		// check the account
		progress.Update(int64(i + 1))
	}
	progress.Finish()

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx := cli.SetupSignalHandler()
	// Use ctx for operations that should stop on shutdown
*/
package cli
