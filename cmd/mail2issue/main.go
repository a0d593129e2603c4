package main

import "github.com/nhle/mail2issue/internal/app"

func main() {
	app.Execute()
}
