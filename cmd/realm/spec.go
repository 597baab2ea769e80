package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/dcrodman/realm/internal/core"
	"github.com/dcrodman/realm/internal/core/data"
)

var specCmd = &cobra.Command{
	Use:   "spec",
	Short: "Server specification management tools",
}

var specAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Registers a new server specification in the database",
	Run:   SpecAddCommand,
}

var specListCmd = &cobra.Command{
	Use:   "list",
	Short: "Lists the server specifications in the database",
	Run:   SpecListCommand,
}

var specRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Removes a server specification from the database",
	Args:  cobra.ExactArgs(1),
	Run:   SpecRemoveCommand,
}

var (
	ServerTypeFlag string
	PortFlag       int
	ZoneFlag       uint32
	MaxUsersFlag   int
)

func initDB() *gorm.DB {
	cfg, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	db, err := data.Open(cfg)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	return db
}

func SpecAddCommand(cmd *cobra.Command, args []string) {
	serverType, err := data.ParseServerType(ServerTypeFlag)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	db := initDB()
	defer data.Close(db)

	spec := &data.ServerSpecification{
		ServerType:   serverType,
		Port:         PortFlag,
		ZoneID:       data.ZoneID(ZoneFlag),
		MaxUserCount: MaxUsersFlag,
	}
	if err := data.CreateSpecification(db, spec); err != nil {
		fmt.Println("error creating specification:", err)
		return
	}
	fmt.Printf("created %v server specification (ID: %s)\n", spec.ServerType, spec.ID)
}

func SpecListCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	defer data.Close(db)

	var specs []data.ServerSpecification
	if ServerTypeFlag != "" {
		serverType, err := data.ParseServerType(ServerTypeFlag)
		if err != nil {
			fmt.Println(err)
			return
		}
		if specs, err = data.FindSpecificationsByType(db, serverType); err != nil {
			fmt.Println("error listing specifications:", err)
			return
		}
	} else if err := db.Order("created_at").Find(&specs).Error; err != nil {
		fmt.Println("error listing specifications:", err)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tPORT\tZONE\tUSERS")
	for _, spec := range specs {
		fmt.Fprintf(w, "%s\t%v\t%d\t%d\t%d/%d\n",
			spec.ID, spec.ServerType, spec.Port, spec.ZoneID, spec.ActiveUserCount, spec.MaxUserCount)
	}
	_ = w.Flush()
}

func SpecRemoveCommand(cmd *cobra.Command, args []string) {
	db := initDB()
	defer data.Close(db)

	spec, err := data.FindSpecification(db, args[0])
	if err != nil {
		fmt.Println("error loading specification:", err)
		return
	}
	if spec == nil {
		fmt.Printf("no specification found with ID %s\n", args[0])
		return
	}
	if err := data.DeleteSpecification(db, spec.ID); err != nil {
		fmt.Println("error removing specification:", err)
		return
	}
	fmt.Printf("removed %v server specification (ID: %s)\n", spec.ServerType, spec.ID)
}
