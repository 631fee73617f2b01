package validators

import "go.mongodb.org/mongo-driver/bson"

var PaymentValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"rental_id",
			"amount",
			"status",
			"payment_type",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"rental_id": objectIDString,

			// set only on extension payments
			"extension_id": objectIDString,

			"amount": bson.M{
				"bsonType": []string{"long", "int"},
				"minimum":  0,
			},

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"pending",
					"completed",
					"failed",
				},
			},

			"payment_type": bson.M{
				"bsonType": "string",
				"enum": []string{
					"initial",
					"extension",
				},
			},

			"paid_at": bson.M{
				"bsonType": []string{"date", "null"},
			},

			"created_at": bson.M{
				"bsonType": "date",
			},

			"updated_at": bson.M{
				"bsonType": "date",
			},
		},
	},
}
