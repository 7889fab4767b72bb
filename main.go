package main

import "github.com/killallgit/marginalia/cmd"

// @title           Marginalia API
// @version         1.0.0
// @description     Annotation persistence, filtering and export for document readers
// @license.name    MIT
// @license.url     https://opensource.org/licenses/MIT
// @host            localhost:8080
// @BasePath        /
// @schemes         http https
func main() {
	cmd.Execute()
}
