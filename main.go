// Command scraper runs the concurrent site scrapers.
package main

import "github.com/JakeFAU/async-scrapers/cmd"

func main() {
	cmd.Execute()
}
