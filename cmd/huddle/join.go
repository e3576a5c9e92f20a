package main

import (
	"github.com/spf13/cobra"
)

var (
	flagJoinPassword string
	flagAudioOnly    bool
)

var joinCmd = &cobra.Command{
	Use:   "join <room-code>",
	Short: "Join a room and stay until interrupted",
	Long: `Join a room by its code. Lines typed on stdin are sent as chat messages;
the commands /video, /audio, /share, /unshare, /media, /who and /leave control
the meeting.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		if flagAudioOnly {
			a.cfg.Media.PreferAudioOnly = true
		}
		room, err := a.api.JoinRoom(cmd.Context(), args[0], flagJoinPassword)
		if err != nil {
			return err
		}
		return runMeeting(cmd.Context(), a, room)
	},
}

func init() {
	joinCmd.Flags().StringVarP(&flagJoinPassword, "password", "p", "", "room password")
	joinCmd.Flags().BoolVar(&flagAudioOnly, "audio-only", false, "capture audio only")
}
