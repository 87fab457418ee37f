package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pixivsync/pkg/auth"
	"pixivsync/pkg/config"
	"pixivsync/pkg/logger"
	"pixivsync/pkg/ui"
)

var (
	loginName  string
	skipGuide  bool
	skipVerify bool
	logoutAll  bool
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage pixiv credentials",
	Long: `Manage stored pixiv refresh tokens.

Tokens are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - PIXIVSYNC_REFRESH_TOKEN (read-only)

pixiv rotates the token on every login; sync saves the new value back.`,
}

// loginCmd represents the auth login command
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store a pixiv refresh token",
	Long: `Store a pixiv refresh token in the system keychain or encrypted file.

The token is checked against pixiv before it is saved, and the account's
numeric id is recorded with it.`,
	Example: `  # Interactive login
  pixivsync auth login

  # Name the account and skip the guide
  pixivsync auth login --name main --no-guide`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

// logoutCmd represents the auth logout command
var logoutCmd = &cobra.Command{
	Use:   "logout [name]",
	Short: "Remove stored credentials",
	Example: `  pixivsync auth logout main
  pixivsync auth logout --all`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogout,
}

// listCmd represents the auth list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored accounts",
	Long:  `List all stored pixiv accounts with masked tokens.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd)
	authCmd.AddCommand(logoutCmd)
	authCmd.AddCommand(listCmd)

	loginCmd.Flags().StringVar(&loginName, "name", "", "account name to store the token under (default: pixiv account handle)")
	loginCmd.Flags().BoolVar(&skipGuide, "no-guide", false, "do not print the refresh token guide")
	loginCmd.Flags().BoolVar(&skipVerify, "no-verify", false, "store the token without checking it")
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored account")
}

func runLogin(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if !skipGuide {
		auth.ShowRefreshTokenGuide()
		fmt.Println()
	}

	fmt.Print("Refresh token (hidden): ")
	token, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read token: %w", err)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("refresh token is required")
	}

	account := &auth.Account{Name: loginName, RefreshToken: token}

	if !skipVerify {
		cfg, err := loadConfig(nil)
		if err != nil {
			cfg = config.DefaultConfig()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		client := newPixivClient(cfg, token, logger.GetLogger())
		user, err := client.Login(ctx)
		if err != nil {
			return fmt.Errorf("pixiv rejected the token: %w", err)
		}
		account.RefreshToken = client.RefreshToken()
		account.UserID = client.UserID()
		if account.Name == "" {
			account.Name = user.Account
		}
		ui.PrintInfo("Authenticated as", fmt.Sprintf("%s (%s)", user.Name, user.ID))
	}

	if account.Name == "" {
		reader := bufio.NewReader(os.Stdin)
		fmt.Print("Account name: ")
		input, _ := reader.ReadString('\n')
		account.Name = strings.TrimSpace(input)
	}
	if account.Name == "" {
		return fmt.Errorf("account name is required")
	}

	if existing, _ := manager.Retrieve(account.Name); existing != nil {
		ui.PrintWarning("Replacing stored token", account.Name)
	}
	if err := manager.Store(account); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess("Account saved: " + account.Name)
	if auth.IsKeyringAvailable() {
		fmt.Println("   stored in the system keychain or the encrypted file")
	} else {
		fmt.Println("   stored in the encrypted file")
	}
	fmt.Println("\nNext: pixivsync sync")
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	if logoutAll {
		if err := manager.DeleteAll(); err != nil {
			return fmt.Errorf("failed to remove all accounts: %w", err)
		}
		ui.PrintSuccess("All accounts removed")
		return nil
	}

	if len(args) == 0 {
		accounts, err := manager.List()
		if err != nil || len(accounts) == 0 {
			return fmt.Errorf("no stored accounts found")
		}
		if len(accounts) > 1 {
			return fmt.Errorf("several accounts stored, name the one to remove or pass --all")
		}
		args = []string{accounts[0].Name}
	}

	if err := manager.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to remove account: %w", err)
	}
	ui.PrintSuccess("Account removed: " + args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	accounts, err := manager.List()
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored accounts", "Use 'pixivsync auth login' to add an account")
		return nil
	}

	ui.PrintHighlight("Stored Accounts")
	fmt.Println()
	for i, account := range accounts {
		sanitized := auth.SanitizeAccount(account)
		fmt.Printf("%d. Name: %s\n", i+1, sanitized.Name)
		fmt.Printf("   Refresh Token: %s\n", sanitized.RefreshToken)
		if sanitized.UserID != 0 {
			fmt.Printf("   User ID: %d\n", sanitized.UserID)
		}
		fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}
	return nil
}

// readPassword reads a secret from stdin without echoing when it is a terminal
func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Println()
		if err == nil {
			return string(secret), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
