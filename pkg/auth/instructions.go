package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowAppCredentialGuide explains where to find the app id and secret
func ShowAppCredentialGuide(w io.Writer) {
	line := strings.Repeat("=", 72)
	fmt.Fprintln(w, line)
	fmt.Fprintln(w, "APP CREDENTIALS")
	fmt.Fprintln(w, line)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "productsync talks to the table API as a custom app.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 1: Open the developer console (https://open.feishu.cn/app)")
	fmt.Fprintln(w, "        and select or create your custom app.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 2: Under 'Credentials & Basic Info' copy the App ID")
	fmt.Fprintln(w, "        (starts with cli_) and the App Secret.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "STEP 3: Grant the app the bitable:app permission and add it")
	fmt.Fprintln(w, "        as a collaborator on the base you want to sync.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "The secret is stored in the system keyring when available and")
	fmt.Fprintln(w, "in an encrypted file otherwise. PRODUCTSYNC_APP_ID and")
	fmt.Fprintln(w, "PRODUCTSYNC_APP_SECRET are read as a fallback.")
	fmt.Fprintln(w, line)
}
