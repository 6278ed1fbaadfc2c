package main

import "github.com/clearslate/sweeper/internal/app"

func main() {
	app.Execute()
}
