package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/dcrodman/realm/internal/core/data"
	"github.com/dcrodman/realm/internal/worldserver"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "World server request management tools",
}

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the world server requests no server has answered",
	Run:   RequestListCommand,
}

var requestClaimCmd = &cobra.Command{
	Use:   "claim <request> <spec>",
	Short: "Answers a world server request with a world server specification",
	Long: "Answers a world server request with a world server specification. The request\n" +
		"completes when the world server with that specification starts.",
	Args: cobra.ExactArgs(2),
	Run:  RequestClaimCommand,
}

var requestFailCmd = &cobra.Command{
	Use:   "fail <request>",
	Short: "Fails a pending world server request so that its requester stops waiting",
	Args:  cobra.ExactArgs(1),
	Run:   RequestFailCommand,
}

func RequestListCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	defer data.Close(db)

	if err := listRequests(os.Stdout, db); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func RequestClaimCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	defer data.Close(db)

	if err := claimRequest(cmd.Context(), os.Stdout, db, args[0], args[1]); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func RequestFailCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	defer data.Close(db)

	if err := failRequest(cmd.Context(), os.Stdout, db, args[0]); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func listRequests(w io.Writer, db *gorm.DB) error {
	requests, err := data.FindUnansweredRequests(db)
	if err != nil {
		return fmt.Errorf("error listing requests: %w", err)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tZONE\tSTATE\tCREATED")
	for _, request := range requests {
		fmt.Fprintf(tw, "%s\t%d\t%v\t%s\n",
			request.ID, request.ZoneID, request.State, request.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

// claimRequest answers the request with specID, which must be a world server
// serving the requested zone.
func claimRequest(ctx context.Context, w io.Writer, db *gorm.DB, requestID, specID string) error {
	request, err := data.FindWorldServerRequest(db, requestID)
	if err != nil {
		return fmt.Errorf("error loading request: %w", err)
	}
	if request == nil {
		return fmt.Errorf("no request found with ID %s", requestID)
	}

	spec, err := data.FindSpecification(db, specID)
	if err != nil {
		return fmt.Errorf("error loading specification: %w", err)
	}
	if spec == nil {
		return fmt.Errorf("no specification found with ID %s", specID)
	}
	if spec.ServerType != data.ServerTypeWorld || spec.ZoneID != request.ZoneID {
		return fmt.Errorf("specification %s is a %v server for zone %d, request %s needs a World server for zone %d",
			spec.ID, spec.ServerType, spec.ZoneID, request.ID, request.ZoneID)
	}

	claimed, err := worldserver.ClaimRequest(ctx, db, request.ID, spec.ID)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("request %s has already been answered", request.ID)
	}
	fmt.Fprintf(w, "request %s answered by %s (port %d)\n", request.ID, spec.ID, spec.Port)
	return nil
}

func failRequest(ctx context.Context, w io.Writer, db *gorm.DB, requestID string) error {
	failed, err := worldserver.FailRequest(ctx, db, requestID)
	if err != nil {
		return err
	}
	if !failed {
		return fmt.Errorf("no pending request found with ID %s", requestID)
	}
	fmt.Fprintf(w, "request %s failed\n", requestID)
	return nil
}
