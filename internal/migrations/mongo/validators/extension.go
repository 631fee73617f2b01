package validators

import "go.mongodb.org/mongo-driver/bson"

var ExtensionValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": []string{
			"rental_id",
			"status",
			"interval_months",
			"new_end_date",
			"amount",
			"created_at",
		},
		"additionalProperties": true,

		"properties": bson.M{
			"_id": bson.M{
				"bsonType": "objectId",
			},

			"rental_id": objectIDString,

			"status": bson.M{
				"bsonType": "string",
				"enum": []string{
					"pending_payment",
					"completed",
					"failed",
				},
			},

			"interval_months": intervalMonths,

			"new_end_date": bson.M{
				"bsonType": "date",
			},

			"amount": bson.M{
				"bsonType": []string{"long", "int"},
				"minimum":  0,
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
