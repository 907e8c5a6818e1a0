package main

//go:generate swag init -g cmd/streakd/main.go -o docs

// @title           Streak Automation API
// @version         0.1.0
// @description     Streak-gated trading automation: scope status, decisions, overrides and worker control.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
