package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	souqly "github.com/souqly-app/souqly-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.AddCommand(chatListCmd)
	chatCmd.AddCommand(chatHistoryCmd)
	chatCmd.AddCommand(chatSendCmd)
	chatCmd.AddCommand(chatWatchCmd)

	chatHistoryCmd.Flags().Int("limit", 50, "maximum number of messages to fetch")
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Conversations and messages",
}

var chatListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireAuth()
		client := getClient(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Chat.ListConversations(ctx)
		if err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("list conversations: %v", result.Error)
		}

		var convos []souqly.Conversation
		if err := result.Decode(&convos); err != nil {
			return fmt.Errorf("decode conversations: %w", err)
		}

		if len(convos) == 0 {
			fmt.Println("No conversations.")
			return nil
		}
		for _, c := range convos {
			line := fmt.Sprintf("%s  counterpart=%s", c.ID, c.CounterpartID)
			if c.UnreadCount > 0 {
				line += fmt.Sprintf("  unread=%d", c.UnreadCount)
			}
			if c.LastMessage != nil {
				line += "  last=" + truncate(c.LastMessage.Content, 40)
			}
			fmt.Println(line)
		}
		return nil
	},
}

var chatHistoryCmd = &cobra.Command{
	Use:   "history <conversation-id>",
	Short: "Print recent messages in a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireAuth()
		client := getClient(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		limit, _ := cmd.Flags().GetInt("limit")
		result, err := client.Chat.History(ctx, args[0], &souqly.PaginationOptions{Limit: limit})
		if err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("history: %v", result.Error)
		}

		var msgs []souqly.Message
		if err := result.Decode(&msgs); err != nil {
			return fmt.Errorf("decode messages: %w", err)
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04:05"), m.SenderID, m.Content)
		}
		return nil
	},
}

var chatSendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Send a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireAuth()
		client := getClient(cfg)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Chat.Send(ctx, args[0], args[1], nil)
		if err != nil {
			return err
		}
		if !result.OK {
			return fmt.Errorf("send: %v", result.Error)
		}

		var msg souqly.Message
		if err := result.Decode(&msg); err == nil && msg.ID != "" {
			fmt.Printf("Sent %s\n", msg.ID)
		} else {
			fmt.Println("Sent.")
		}
		return nil
	},
}

var chatWatchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Stream messages and typing indicators for a conversation",
	Long:  "Connect to the real-time channel, join the conversation room, and print incoming messages until interrupted.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireAuth()
		conversationID := args[0]

		baseURL := cfg.Default.BaseURL
		if baseURL == "" {
			baseURL = souqly.DefaultBaseURL
		}

		rt := souqly.NewRealtimeClient(baseURL, &souqly.RealtimeOptions{
			Token:         cfg.Auth.Token,
			AutoReconnect: true,
		})
		rt.OnConnected(func() {
			fmt.Println("-- connected --")
		})
		rt.OnDisconnected(func(reason string) {
			fmt.Printf("-- disconnected: %s --\n", reason)
		})

		inConversation := func(id string) souqly.Predicate {
			return func(ev souqly.Event) bool {
				switch p := ev.Payload.(type) {
				case souqly.MessageNewPayload:
					return p.ConversationID == id
				case souqly.TypingIndicatorPayload:
					return p.ConversationID == id
				}
				return false
			}
		}

		rt.Events().Subscribe(souqly.EventMessageNew, inConversation(conversationID), func(ev souqly.Event) {
			p := ev.Payload.(souqly.MessageNewPayload)
			fmt.Printf("[%s] %s: %s\n", p.Message.CreatedAt.Format("15:04:05"), p.Message.SenderID, p.Message.Content)
		})
		rt.Events().Subscribe(souqly.EventTypingIndicator, inConversation(conversationID), func(ev souqly.Event) {
			p := ev.Payload.(souqly.TypingIndicatorPayload)
			if p.IsTyping {
				fmt.Printf("-- %s is typing --\n", p.UserID)
			}
		})

		binding := rt.Rooms().Bind()
		binding.Join(souqly.ConversationRoom(conversationID))
		defer binding.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := rt.Connect(ctx)
		cancel()
		if err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		defer rt.Disconnect()

		fmt.Printf("Watching conversation %s. Ctrl-C to stop.\n", conversationID)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		return nil
	},
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
