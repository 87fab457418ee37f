package auth

import (
	"fmt"
	"strings"
)

// ShowRefreshTokenGuide prints how to obtain a pixiv refresh token.
func ShowRefreshTokenGuide() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("PIXIV REFRESH TOKEN GUIDE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	fmt.Println("pixivsync talks to the pixiv app API and authenticates with a refresh token.")
	fmt.Println("Passwords are never stored. Get a token once and the tool keeps it rotated.")
	fmt.Println()

	fmt.Println("STEP 1: Start the app login flow")
	fmt.Println("   - Open https://app-api.pixiv.net/web/v1/login in a desktop browser")
	fmt.Println("   - Open Developer Tools (F12) on the Network tab before logging in")
	fmt.Println("   - Enable 'Preserve log'")
	fmt.Println()

	fmt.Println("STEP 2: Log in")
	fmt.Println("   - Log in with your pixiv account as usual")
	fmt.Println("   - The browser is redirected to a pixiv:// URL that it cannot open")
	fmt.Println()

	fmt.Println("STEP 3: Exchange the code")
	fmt.Println("   - Filter the Network tab for 'callback?'")
	fmt.Println("   - Copy the 'code' query parameter; it expires within a minute")
	fmt.Println("   - Exchange it with any pixiv OAuth helper (for example gppt or pixiv_auth.py)")
	fmt.Println("   - The helper prints an access token and a refresh token")
	fmt.Println()

	fmt.Println("STEP 4: Save it")
	fmt.Println("   pixivsync auth login --name <account>")
	fmt.Println("   or export " + envRefreshToken + "=<token>")
	fmt.Println()

	fmt.Println("NOTES")
	fmt.Println("   - The refresh token grants full access to your account; keep it private")
	fmt.Println("   - pixiv rotates it on every login and pixivsync stores the new value")
	fmt.Println("   - Run 'pixivsync auth login' again if authentication starts failing")
	fmt.Println(strings.Repeat("=", 80))
}
