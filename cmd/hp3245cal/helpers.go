package main

import (
	"github.com/fatih/color"

	"github.com/charlie0129/hp3245cal/pkg/client"
)

func apiClient() *client.Client {
	return client.NewClient(unixSocketPath)
}

func bool2Text(b bool) string {
	if b {
		return color.GreenString("PASS")
	}
	return color.RedString("FAIL")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
