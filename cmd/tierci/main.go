// Command tierci runs tiered CI pipelines.
package main

func main() {
	Execute()
}
