package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/kozaktomas/missing-persons/internal/accounts"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user account",
	Long: `Create a user account with the same validation as the registration page.

When --password is empty the password is read from the terminal without echo,
or from the first line of stdin when stdin is not a terminal.

Examples:
  missing-persons user create --username alice --email alice@example.com
  echo "s3cret!" | missing-persons user create --username bob --email bob@example.com`,
	RunE: runUserCreate,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd)

	userCreateCmd.Flags().String("username", "", "Username (required)")
	userCreateCmd.Flags().String("email", "", "Email address (required)")
	userCreateCmd.Flags().String("contact", "", "Contact information shown to other users")
	userCreateCmd.Flags().String("password", "", "Password (prompted when empty)")
	_ = userCreateCmd.MarkFlagRequired("username")
	_ = userCreateCmd.MarkFlagRequired("email")
}

// readPassword prompts twice on a terminal, otherwise reads one line.
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Print("Password: ")
	first, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	fmt.Print("Repeat password: ")
	second, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	if string(first) != string(second) {
		return "", errors.New("passwords do not match")
	}
	return string(first), nil
}

func runUserCreate(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	password := mustGetString(cmd, "password")
	if password == "" {
		var err error
		if password, err = readPassword(); err != nil {
			return err
		}
	}

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := accounts.NewService(a.backend.Users).Register(ctx, accounts.RegisterInput{
		Username:    mustGetString(cmd, "username"),
		Password:    password,
		Email:       mustGetString(cmd, "email"),
		ContactInfo: mustGetString(cmd, "contact"),
	})
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("Created user %s (id %d)\n", user.Username, user.ID)
	return nil
}
