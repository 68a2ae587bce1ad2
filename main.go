package main

import (
	"sentinel.io/infrastructure"
	"sentinel.io/infrastructure/env"
)

func init() {
	env.LoadEnv()
}

func main() {
	infrastructure.StartDaemon()
}
