package banner

import "fmt"

const Version = "0.3.0"

func Print() {
	banner := `
    __                _____            __  _            __
   / /   ____  ____ _/ ___/___  ____  / /_(_)___  ___  / /
  / /   / __ \/ __ '/\__ \/ _ \/ __ \/ __/ / __ \/ _ \/ /
 / /___/ /_/ / /_/ /___/ /  __/ / / / /_/ / / / /  __/ /
/_____/\____/\__, //____/\___/_/ /_/\__/_/_/ /_/\___/_/
            /____/  v%s - Log Stream Sentinel
    `
	fmt.Printf(banner, Version)
	fmt.Println("\n------------------------------------------------")
}
