package main

import (
	"fmt"
	"os"

	"huddle/internal/infrastructure/api"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	flagRoomDescription string
	flagRoomMaxUsers    int
	flagRoomPrivate     bool
	flagRoomPassword    string
	flagCreateAndJoin   bool
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the rooms you created or joined",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		rooms, err := a.api.UserRooms(cmd.Context())
		if err != nil {
			return err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"ID", "Name", "Code", "Members", "Private"})
		for _, room := range rooms {
			t.AppendRow(table.Row{room.ID, room.Name, room.Code, len(room.Members), room.IsPrivate})
		}
		t.Render()
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a room and print its join code",
	Example: `  huddle create "Weekly sync"
  huddle create standup --private --password s3cret --join`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		room, err := a.api.CreateRoom(cmd.Context(), api.CreateRoomRequest{
			RoomName:    args[0],
			Description: flagRoomDescription,
			MaxUsers:    flagRoomMaxUsers,
			IsPrivate:   flagRoomPrivate,
			Password:    flagRoomPassword,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created %q, join code %s\n", room.Name, room.Code)

		if !flagCreateAndJoin {
			return nil
		}
		return runMeeting(cmd.Context(), a, room)
	},
}

func init() {
	createCmd.Flags().StringVar(&flagRoomDescription, "description", "", "room description")
	createCmd.Flags().IntVar(&flagRoomMaxUsers, "max-users", 10, "member limit")
	createCmd.Flags().BoolVar(&flagRoomPrivate, "private", false, "require a password to join")
	createCmd.Flags().StringVar(&flagRoomPassword, "password", "", "room password")
	createCmd.Flags().BoolVar(&flagCreateAndJoin, "join", false, "enter the room after creating it")
}
