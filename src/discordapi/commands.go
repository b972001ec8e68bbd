package discordapi

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// BridgeCommandHandler answers one /bridge subcommand invocation.
type BridgeCommandHandler interface {
	Create(guildID, spaceID string) (string, error)
	Delete(guildID string) (string, error)
	Info(guildID string) (string, error)
}

// RegisterBridgeCommands installs the minimal /bridge create|delete|info
// admin surface. Slash commands are an external, operator-facing
// collaborator to the sync engine, so this stays intentionally thin: three
// subcommands, no component UI, mirroring the single-purpose /status and
// /lag commands the bot already exposed.
func RegisterBridgeCommands(c *Client, handler BridgeCommandHandler) error {
	cmd := &discordgo.ApplicationCommand{
		Name:        "bridge",
		Description: "Manage the Discord-Roomy bridge for this server",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Bridge this server to a Roomy space",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "space",
						Description: "Roomy space DID",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "delete",
				Description: "Remove the bridge for this server",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "info",
				Description: "Show bridge status for this server",
			},
		},
	}

	if _, err := c.session.ApplicationCommandCreate(c.session.State.User.ID, "", cmd); err != nil {
		return fmt.Errorf("discordapi: registering /bridge command: %w", err)
	}

	c.session.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic.Type != discordgo.InteractionApplicationCommand {
			return
		}
		data := ic.ApplicationCommandData()
		if data.Name != "bridge" || len(data.Options) == 0 {
			return
		}

		var (
			reply string
			err   error
		)
		switch sub := data.Options[0]; sub.Name {
		case "create":
			space := ""
			for _, opt := range sub.Options {
				if opt.Name == "space" {
					space = opt.StringValue()
				}
			}
			reply, err = handler.Create(ic.GuildID, space)
		case "delete":
			reply, err = handler.Delete(ic.GuildID)
		case "info":
			reply, err = handler.Info(ic.GuildID)
		default:
			return
		}
		if err != nil {
			reply = "Error: " + err.Error()
		}

		_ = s.InteractionRespond(ic.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Flags:   discordgo.MessageFlagsEphemeral,
				Content: reply,
			},
		})
	})

	return nil
}
