package main

import (
	"os"

	"rwaadmin/cmd/api/commands"
)

// @title           RWA Admin API
// @version         1.0
// @description     Tokenization admin backend with threshold approvals for project phases and platform transactions.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
