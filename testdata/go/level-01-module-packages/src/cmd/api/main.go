package main

import (
	"fmt"
	"net/http"

	"example.com/shop/internal/store"
)

func main() {
	fmt.Println(store.New())
	http.ListenAndServe(":8080", nil)
}
