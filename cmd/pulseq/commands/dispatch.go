package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teranos/pulseq/mail"
	"github.com/teranos/pulseq/sym"
)

// DispatchCmd groups the job producers
var DispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: sym.Pulse + " Enqueue jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var dispatchMailCmd = &cobra.Command{
	Use:   "mail",
	Short: "Enqueue an email (mail.send)",
	Long: `Enqueue a mail.send job. A worker on the email queue delivers it.

Examples:
  pulseq dispatch mail --to ada@example.com --subject Hi --body "Notes"
  pulseq dispatch mail --to ada@example.com --delay 10m
  pulseq dispatch mail --to ada@example.com --queue bulk --max-attempts 5`,
	RunE: runDispatchMail,
}

func init() {
	dispatchMailCmd.Flags().String("to", "", "Recipient address")
	dispatchMailCmd.Flags().String("subject", "", "Subject line")
	dispatchMailCmd.Flags().String("body", "", "Message body")
	dispatchMailCmd.Flags().String("queue", mail.DefaultQueue, "Queue to place the job on")
	dispatchMailCmd.Flags().Int("max-attempts", mail.DefaultMaxAttempts, "Delivery attempts before the job fails")
	dispatchMailCmd.Flags().Duration("delay", 0, "Wait this long before the job becomes claimable")
	_ = dispatchMailCmd.MarkFlagRequired("to")

	DispatchCmd.AddCommand(dispatchMailCmd)
}

func runDispatchMail(cmd *cobra.Command, args []string) error {
	msg := mail.SendEmail{}
	msg.To, _ = cmd.Flags().GetString("to")
	msg.Subject, _ = cmd.Flags().GetString("subject")
	msg.Body, _ = cmd.Flags().GetString("body")
	msg.QueueName, _ = cmd.Flags().GetString("queue")
	msg.Attempts, _ = cmd.Flags().GetInt("max-attempts")
	delay, _ := cmd.Flags().GetDuration("delay")

	if err := msg.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	store, closeStore, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer closeStore()

	job, err := newService(store, config).DispatchAt(ctx, msg, time.Now().Add(delay))
	if err != nil {
		return err
	}

	fmt.Printf("%s Dispatched job %d (%s) to queue '%s'\n", sym.Pulse, job.ID, job.JobType, job.Queue)
	if delay > 0 {
		fmt.Printf("  Available at: %s\n", job.AvailableAt.Local().Format(time.RFC3339))
	}
	return nil
}
