package main

import (
	cmd "github.com/ocr-dimt/ocrdemo/cmd/ocrdemo"
)

func main() {
	cmd.Execute()
}
