// Command propertyd serves and runs Pinellas County property lookups.
package main

import "github.com/JakeFAU/pinellas-property-scraper/cmd"

func main() {
	cmd.Execute()
}
