package main

import (
	"fmt"
	"log"

	"github.com/mariiahub/booking-reconciliation/internal/utils"
)

func main() {
	fmt.Println("===========================================")
	fmt.Println("Secret Generator for the Booking Service")
	fmt.Println("===========================================")
	fmt.Println()

	jwtSecret, webhookSecret, err := utils.GenerateServiceSecrets()
	if err != nil {
		log.Fatalf("Failed to generate secrets: %v", err)
	}

	fmt.Println("Add these to your .env file or deployment secrets:")
	fmt.Println()
	fmt.Printf("JWT_SECRET=%s\n", jwtSecret)
	fmt.Printf("PAYMENT_WEBHOOK_SECRET=%s\n", webhookSecret)
	fmt.Println()
	fmt.Println("Register the webhook secret with the payment provider as well.")
	fmt.Println("Keep these secrets out of version control.")
	fmt.Println("===========================================")
}
