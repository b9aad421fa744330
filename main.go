package main

import "riskapi/internal/app"

func main() {
	app.Main()
}
